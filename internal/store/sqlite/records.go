package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	gerrors "github.com/go-faster/errors"

	"github.com/JonMunkholm/resolver/internal/core"
)

// RecordSource bulk-loads entity records with one query per kind.
type RecordSource struct {
	db *sql.DB
}

// NewRecordSource creates a RecordSource.
func NewRecordSource(db *sql.DB) *RecordSource {
	return &RecordSource{db: db}
}

var _ core.RecordSource = (*RecordSource)(nil)

func recordsQuery(table string) string {
	return fmt.Sprintf(
		"SELECT id, tenant_id, name, emails, domains, attributes FROM %s WHERE tenant_id = ? ORDER BY id",
		quoteIdentifier(table),
	)
}

// LoadRecords returns every record of def owned by tenantID in ascending id order.
func (s *RecordSource) LoadRecords(ctx context.Context, tenantID string, def core.EntityDefinition) ([]core.Record, error) {
	rows, err := s.db.QueryContext(ctx, recordsQuery(def.Table), tenantID)
	if err != nil {
		return nil, gerrors.Wrapf(err, "query %s", def.Table)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var (
			rec                    core.Record
			emails, domains, attrs string
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Name, &emails, &domains, &attrs); err != nil {
			return nil, gerrors.Wrapf(err, "scan %s", def.Table)
		}
		if err := decodeJSON(emails, &rec.Emails); err != nil {
			return nil, gerrors.Wrapf(err, "decode emails of %s", rec.ID)
		}
		if err := decodeJSON(domains, &rec.Domains); err != nil {
			return nil, gerrors.Wrapf(err, "decode domains of %s", rec.ID)
		}
		if err := decodeJSON(attrs, &rec.Attributes); err != nil {
			return nil, gerrors.Wrapf(err, "decode attributes of %s", rec.ID)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrapf(err, "read %s", def.Table)
	}
	return out, nil
}

// PutRecord inserts or replaces one record in table.
func PutRecord(ctx context.Context, db *sql.DB, table string, rec core.Record) error {
	emails, err := encodeJSON(rec.Emails, "[]")
	if err != nil {
		return err
	}
	domains, err := encodeJSON(rec.Domains, "[]")
	if err != nil {
		return err
	}
	attrs, err := encodeJSON(rec.Attributes, "{}")
	if err != nil {
		return err
	}

	q := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (id, tenant_id, name, emails, domains, attributes) VALUES (?, ?, ?, ?, ?, ?)",
		quoteIdentifier(table),
	)
	if _, err := db.ExecContext(ctx, q, rec.ID, rec.TenantID, rec.Name, emails, domains, attrs); err != nil {
		return gerrors.Wrapf(err, "put %s record %s", table, rec.ID)
	}
	return nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

// encodeJSON marshals v, returning empty for a nil or empty value.
func encodeJSON[T ~[]string | ~map[string]string](v T, empty string) (string, error) {
	if len(v) == 0 {
		return empty, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", gerrors.Wrap(err, "encode json")
	}
	return string(b), nil
}
