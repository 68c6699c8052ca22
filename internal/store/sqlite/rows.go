package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	gerrors "github.com/go-faster/errors"

	"github.com/JonMunkholm/resolver/internal/core"
)

// trimChars are the ASCII whitespace characters strings.TrimSpace strips.
// trim() alone strips only spaces.
const trimChars = "' ' || char(9, 10, 11, 12, 13)"

// ?2 is always the JSON path of the column.
const resolvedExpr = "trim(COALESCE(json_extract(corrections, ?2), json_extract(raw_data, ?2), ''), " + trimChars + ")"

const (
	insertRowSQL = `INSERT INTO import_rows (import_id, row_number, raw_data, corrections)
VALUES (?, ?, ?, ?)
ON CONFLICT (import_id, row_number) DO NOTHING`

	selectRowsSQL = `SELECT row_number, raw_data, corrections, match_action, matched_id
FROM import_rows WHERE import_id = ?1
ORDER BY row_number LIMIT ?3 OFFSET ?2`

	columnValueSQL = `SELECT COALESCE(json_extract(corrections, ?2), json_extract(raw_data, ?2), '')
FROM import_rows WHERE import_id = ?1 AND row_number = ?3`

	setCorrectionSQL = `UPDATE import_rows
SET corrections = json_set(COALESCE(corrections, '{}'), ?3, ?4)
WHERE import_id = ?1 AND row_number = ?2`

	resetMatchesSQL = `UPDATE import_rows SET match_action = NULL, matched_id = NULL
WHERE import_id = ?1 AND match_action IS NOT NULL`

	distinctValuesSQL = `SELECT DISTINCT v FROM (
    SELECT ` + resolvedExpr + ` AS v FROM import_rows WHERE import_id = ?1
) WHERE v <> '' ORDER BY v`

	applyDecisionsSQL = `UPDATE import_rows
SET match_action = d.action, matched_id = NULLIF(d.matched_id, '')
FROM (
    SELECT json_extract(value, '$.value') AS value,
           json_extract(value, '$.action') AS action,
           json_extract(value, '$.matchedId') AS matched_id
    FROM json_each(?3)
) AS d
WHERE import_rows.import_id = ?1 AND import_rows.match_action IS NULL
  AND trim(COALESCE(json_extract(import_rows.corrections, ?2), json_extract(import_rows.raw_data, ?2), ''), ` + trimChars + `) = d.value`

	setDefaultActionSQL = `UPDATE import_rows SET match_action = ?2
WHERE import_id = ?1 AND match_action IS NULL`

	countByActionSQL = `SELECT COALESCE(match_action, ''), count(*)
FROM import_rows WHERE import_id = ?1 GROUP BY 1`

	deleteImportSQL = `DELETE FROM import_rows WHERE import_id = ?1`
)

// RowStore keeps staged rows in the import_rows table as JSON text.
type RowStore struct {
	db *sql.DB
}

// NewRowStore creates a RowStore.
func NewRowStore(db *sql.DB) *RowStore {
	return &RowStore{db: db}
}

var _ core.RowStore = (*RowStore)(nil)

// InsertRows inserts rows in one transaction. Rows already staged under
// the same number are kept.
func (s *RowStore) InsertRows(ctx context.Context, importID string, rows []core.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return gerrors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertRowSQL)
	if err != nil {
		return gerrors.Wrap(err, "prepare insert")
	}
	defer stmt.Close()

	for _, r := range rows {
		raw, err := json.Marshal(r.RawData)
		if err != nil {
			return gerrors.Wrapf(err, "encode row %d", r.RowNumber)
		}
		var corrections any
		if len(r.Corrections) > 0 {
			b, err := json.Marshal(r.Corrections)
			if err != nil {
				return gerrors.Wrapf(err, "encode corrections of row %d", r.RowNumber)
			}
			corrections = string(b)
		}
		if _, err := stmt.ExecContext(ctx, importID, r.RowNumber, string(raw), corrections); err != nil {
			return gerrors.Wrapf(err, "insert row %d", r.RowNumber)
		}
	}

	if err := tx.Commit(); err != nil {
		return gerrors.Wrap(err, "commit staged rows")
	}
	return nil
}

func (s *RowStore) Rows(ctx context.Context, importID string, offset, limit int) ([]core.StagedRow, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRowsSQL, importID, offset, limit)
	if err != nil {
		return nil, gerrors.Wrap(err, "query staged rows")
	}
	defer rows.Close()

	var out []core.StagedRow
	for rows.Next() {
		var (
			r          core.StagedRow
			raw        string
			fixes      sql.NullString
			action, id sql.NullString
		)
		if err := rows.Scan(&r.RowNumber, &raw, &fixes, &action, &id); err != nil {
			return nil, gerrors.Wrap(err, "scan staged row")
		}
		if err := json.Unmarshal([]byte(raw), &r.RawData); err != nil {
			return nil, gerrors.Wrapf(err, "decode row %d", r.RowNumber)
		}
		if fixes.Valid {
			if err := json.Unmarshal([]byte(fixes.String), &r.Corrections); err != nil {
				return nil, gerrors.Wrapf(err, "decode corrections of row %d", r.RowNumber)
			}
		}
		r.MatchAction = core.MatchAction(action.String)
		r.MatchedID = id.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "read staged rows")
	}
	return out, nil
}

func (s *RowStore) ColumnValue(ctx context.Context, importID string, rowNumber int, column string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, columnValueSQL, importID, jsonPath(column), rowNumber).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrRowNotFound
	}
	if err != nil {
		return "", gerrors.Wrap(err, "query column value")
	}
	return v, nil
}

func (s *RowStore) SetCorrection(ctx context.Context, importID string, rowNumber int, column, value string) error {
	res, err := s.db.ExecContext(ctx, setCorrectionSQL, importID, rowNumber, jsonPath(column), value)
	if err != nil {
		return gerrors.Wrap(err, "set correction")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return gerrors.Wrap(err, "set correction")
	}
	if n == 0 {
		return core.ErrRowNotFound
	}
	return nil
}

func (s *RowStore) ResetMatches(ctx context.Context, importID string) error {
	if _, err := s.db.ExecContext(ctx, resetMatchesSQL, importID); err != nil {
		return gerrors.Wrap(err, "reset matches")
	}
	return nil
}

func (s *RowStore) DistinctValues(ctx context.Context, importID, column string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, distinctValuesSQL, importID, jsonPath(column))
	if err != nil {
		return nil, gerrors.Wrap(err, "query distinct values")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, gerrors.Wrap(err, "scan distinct value")
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "read distinct values")
	}
	return out, nil
}

type decisionJSON struct {
	Value     string `json:"value"`
	Action    string `json:"action"`
	MatchedID string `json:"matchedId"`
}

// ApplyDecisions writes all decisions in one statement by joining the
// undecided rows against the decisions passed as a JSON array.
func (s *RowStore) ApplyDecisions(ctx context.Context, importID, column string, decisions []core.ValueDecision) (int64, error) {
	if len(decisions) == 0 {
		return 0, nil
	}
	payload := make([]decisionJSON, len(decisions))
	for i, d := range decisions {
		payload[i] = decisionJSON{Value: d.Value, Action: string(d.Action), MatchedID: d.MatchedID}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, gerrors.Wrap(err, "encode decisions")
	}

	res, err := s.db.ExecContext(ctx, applyDecisionsSQL, importID, jsonPath(column), string(b))
	if err != nil {
		return 0, gerrors.Wrap(err, "apply decisions")
	}
	return rowsAffected(res)
}

func (s *RowStore) SetDefaultAction(ctx context.Context, importID string, action core.MatchAction) (int64, error) {
	res, err := s.db.ExecContext(ctx, setDefaultActionSQL, importID, string(action))
	if err != nil {
		return 0, gerrors.Wrap(err, "set default action")
	}
	return rowsAffected(res)
}

func (s *RowStore) CountByAction(ctx context.Context, importID string) (map[core.MatchAction]int, error) {
	rows, err := s.db.QueryContext(ctx, countByActionSQL, importID)
	if err != nil {
		return nil, gerrors.Wrap(err, "count actions")
	}
	defer rows.Close()

	counts := make(map[core.MatchAction]int)
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, gerrors.Wrap(err, "scan action count")
		}
		counts[core.MatchAction(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "read action counts")
	}
	return counts, nil
}

func (s *RowStore) DeleteImport(ctx context.Context, importID string) error {
	if _, err := s.db.ExecContext(ctx, deleteImportSQL, importID); err != nil {
		return gerrors.Wrap(err, "delete import")
	}
	return nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, gerrors.Wrap(err, "rows affected")
	}
	return n, nil
}
