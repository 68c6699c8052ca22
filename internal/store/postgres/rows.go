package postgres

import (
	"context"
	"encoding/json"
	"errors"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/resolver/internal/core"
)

// trimChars are the ASCII whitespace characters strings.TrimSpace strips.
// btrim() alone strips only spaces.
const trimChars = "' ' || chr(9) || chr(10) || chr(11) || chr(12) || chr(13)"

// resolvedExpr is the effective value of the column named by $2.
const resolvedExpr = "btrim(COALESCE(corrections->>$2, raw_data->>$2, ''), " + trimChars + ")"

const (
	insertRowSQL = `INSERT INTO import_rows (import_id, row_number, raw_data, corrections)
VALUES ($1, $2, $3, $4)
ON CONFLICT (import_id, row_number) DO NOTHING`

	selectRowsSQL = `SELECT row_number, raw_data, corrections, match_action, matched_id
FROM import_rows WHERE import_id = $1
ORDER BY row_number OFFSET $2 LIMIT NULLIF($3::int, 0)`

	columnValueSQL = `SELECT COALESCE(corrections->>$3, raw_data->>$3, '')
FROM import_rows WHERE import_id = $1 AND row_number = $2`

	setCorrectionSQL = `UPDATE import_rows
SET corrections = COALESCE(corrections, '{}'::jsonb) || jsonb_build_object($3::text, $4::text)
WHERE import_id = $1 AND row_number = $2`

	resetMatchesSQL = `UPDATE import_rows SET match_action = NULL, matched_id = NULL
WHERE import_id = $1 AND match_action IS NOT NULL`

	distinctValuesSQL = `SELECT DISTINCT v FROM (
    SELECT ` + resolvedExpr + ` AS v FROM import_rows WHERE import_id = $1
) s WHERE v <> '' ORDER BY v`

	applyDecisionsSQL = `UPDATE import_rows r
SET match_action = d.action, matched_id = NULLIF(d.matched_id, '')
FROM unnest($3::text[], $4::text[], $5::text[]) AS d(value, action, matched_id)
WHERE r.import_id = $1 AND r.match_action IS NULL
  AND btrim(COALESCE(r.corrections->>$2, r.raw_data->>$2, ''), ` + trimChars + `) = d.value`

	setDefaultActionSQL = `UPDATE import_rows SET match_action = $2
WHERE import_id = $1 AND match_action IS NULL`

	countByActionSQL = `SELECT COALESCE(match_action, ''), count(*)
FROM import_rows WHERE import_id = $1 GROUP BY 1`

	deleteImportSQL = `DELETE FROM import_rows WHERE import_id = $1`
)

// RowStore keeps staged rows in the import_rows table. Raw values and
// corrections are JSONB objects keyed by CSV column name.
type RowStore struct {
	db DBTX
}

// NewRowStore creates a RowStore.
func NewRowStore(db DBTX) *RowStore {
	return &RowStore{db: db}
}

var _ core.RowStore = (*RowStore)(nil)

// InsertRows queues every row in one batch. Rows already staged under the
// same number are kept.
func (s *RowStore) InsertRows(ctx context.Context, importID string, rows []core.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		raw, err := json.Marshal(r.RawData)
		if err != nil {
			return gerrors.Wrapf(err, "encode row %d", r.RowNumber)
		}
		var corrections []byte
		if len(r.Corrections) > 0 {
			if corrections, err = json.Marshal(r.Corrections); err != nil {
				return gerrors.Wrapf(err, "encode corrections of row %d", r.RowNumber)
			}
		}
		batch.Queue(insertRowSQL, importID, r.RowNumber, raw, corrections)
	}

	br := s.db.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return gerrors.Wrap(err, "insert staged rows")
	}
	return nil
}

func (s *RowStore) Rows(ctx context.Context, importID string, offset, limit int) ([]core.StagedRow, error) {
	rows, err := s.db.Query(ctx, selectRowsSQL, importID, offset, limit)
	if err != nil {
		return nil, gerrors.Wrap(err, "query staged rows")
	}
	defer rows.Close()

	var out []core.StagedRow
	for rows.Next() {
		var (
			r          core.StagedRow
			raw, fixes []byte
			action, id *string
		)
		if err := rows.Scan(&r.RowNumber, &raw, &fixes, &action, &id); err != nil {
			return nil, gerrors.Wrap(err, "scan staged row")
		}
		if err := decodeRow(&r, raw, fixes); err != nil {
			return nil, err
		}
		if action != nil {
			r.MatchAction = core.MatchAction(*action)
		}
		if id != nil {
			r.MatchedID = *id
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "read staged rows")
	}
	return out, nil
}

func (s *RowStore) ColumnValue(ctx context.Context, importID string, rowNumber int, column string) (string, error) {
	var v string
	err := s.db.QueryRow(ctx, columnValueSQL, importID, rowNumber, column).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrRowNotFound
	}
	if err != nil {
		return "", gerrors.Wrap(err, "query column value")
	}
	return v, nil
}

func (s *RowStore) SetCorrection(ctx context.Context, importID string, rowNumber int, column, value string) error {
	tag, err := s.db.Exec(ctx, setCorrectionSQL, importID, rowNumber, column, value)
	if err != nil {
		return gerrors.Wrap(err, "set correction")
	}
	if tag.RowsAffected() == 0 {
		return core.ErrRowNotFound
	}
	return nil
}

func (s *RowStore) ResetMatches(ctx context.Context, importID string) error {
	if _, err := s.db.Exec(ctx, resetMatchesSQL, importID); err != nil {
		return gerrors.Wrap(err, "reset matches")
	}
	return nil
}

func (s *RowStore) DistinctValues(ctx context.Context, importID, column string) ([]string, error) {
	rows, err := s.db.Query(ctx, distinctValuesSQL, importID, column)
	if err != nil {
		return nil, gerrors.Wrap(err, "query distinct values")
	}
	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, gerrors.Wrap(err, "read distinct values")
	}
	return values, nil
}

// ApplyDecisions writes all decisions in one statement by joining the
// undecided rows against the unnested decision arrays.
func (s *RowStore) ApplyDecisions(ctx context.Context, importID, column string, decisions []core.ValueDecision) (int64, error) {
	if len(decisions) == 0 {
		return 0, nil
	}
	values, actions, ids := decisionArrays(decisions)
	tag, err := s.db.Exec(ctx, applyDecisionsSQL, importID, column, values, actions, ids)
	if err != nil {
		return 0, gerrors.Wrap(err, "apply decisions")
	}
	return tag.RowsAffected(), nil
}

func (s *RowStore) SetDefaultAction(ctx context.Context, importID string, action core.MatchAction) (int64, error) {
	tag, err := s.db.Exec(ctx, setDefaultActionSQL, importID, string(action))
	if err != nil {
		return 0, gerrors.Wrap(err, "set default action")
	}
	return tag.RowsAffected(), nil
}

func (s *RowStore) CountByAction(ctx context.Context, importID string) (map[core.MatchAction]int, error) {
	rows, err := s.db.Query(ctx, countByActionSQL, importID)
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
	if _, err := s.db.Exec(ctx, deleteImportSQL, importID); err != nil {
		return gerrors.Wrap(err, "delete import")
	}
	return nil
}

// decisionArrays splits decisions into the parallel arrays unnest expects.
func decisionArrays(decisions []core.ValueDecision) (values, actions, ids []string) {
	values = make([]string, len(decisions))
	actions = make([]string, len(decisions))
	ids = make([]string, len(decisions))
	for i, d := range decisions {
		values[i] = d.Value
		actions[i] = string(d.Action)
		ids[i] = d.MatchedID
	}
	return values, actions, ids
}

func decodeRow(r *core.StagedRow, raw, corrections []byte) error {
	if err := json.Unmarshal(raw, &r.RawData); err != nil {
		return gerrors.Wrapf(err, "decode row %d", r.RowNumber)
	}
	if len(corrections) > 0 {
		if err := json.Unmarshal(corrections, &r.Corrections); err != nil {
			return gerrors.Wrapf(err, "decode corrections of row %d", r.RowNumber)
		}
	}
	return nil
}
