package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	gerrors "github.com/go-faster/errors"

	"github.com/JonMunkholm/resolver/internal/core"
)

// RecordSource bulk-loads entity records with one query per kind.
type RecordSource struct {
	db DBTX
}

// NewRecordSource creates a RecordSource.
func NewRecordSource(db DBTX) *RecordSource {
	return &RecordSource{db: db}
}

var _ core.RecordSource = (*RecordSource)(nil)

func recordsQuery(table string) string {
	return fmt.Sprintf(
		"SELECT id, tenant_id, name, emails, domains, attributes FROM %s WHERE tenant_id = $1 ORDER BY id COLLATE \"C\"",
		quoteIdentifier(table),
	)
}

// LoadRecords returns every record of def owned by tenantID in ascending id order.
func (s *RecordSource) LoadRecords(ctx context.Context, tenantID string, def core.EntityDefinition) ([]core.Record, error) {
	rows, err := s.db.Query(ctx, recordsQuery(def.Table), tenantID)
	if err != nil {
		return nil, gerrors.Wrapf(err, "query %s", def.Table)
	}
	defer rows.Close()

	var out []core.Record
	for rows.Next() {
		var (
			rec   core.Record
			attrs []byte
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Name, &rec.Emails, &rec.Domains, &attrs); err != nil {
			return nil, gerrors.Wrapf(err, "scan %s", def.Table)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
				return nil, gerrors.Wrapf(err, "decode attributes of %s", rec.ID)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrapf(err, "read %s", def.Table)
	}
	return out, nil
}

func putRecordQuery(table string) string {
	return fmt.Sprintf(`INSERT INTO %s (id, tenant_id, name, emails, domains, attributes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    tenant_id = EXCLUDED.tenant_id,
    name = EXCLUDED.name,
    emails = EXCLUDED.emails,
    domains = EXCLUDED.domains,
    attributes = EXCLUDED.attributes`, quoteIdentifier(table))
}

// PutRecord inserts or replaces one record in table.
func PutRecord(ctx context.Context, db DBTX, table string, rec core.Record) error {
	attrs := []byte("{}")
	if len(rec.Attributes) > 0 {
		var err error
		if attrs, err = json.Marshal(rec.Attributes); err != nil {
			return gerrors.Wrap(err, "encode attributes")
		}
	}
	emails, domains := rec.Emails, rec.Domains
	if emails == nil {
		emails = []string{}
	}
	if domains == nil {
		domains = []string{}
	}

	if _, err := db.Exec(ctx, putRecordQuery(table), rec.ID, rec.TenantID, rec.Name, emails, domains, attrs); err != nil {
		return gerrors.Wrapf(err, "put %s record %s", table, rec.ID)
	}
	return nil
}
