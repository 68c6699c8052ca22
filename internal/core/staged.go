package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// MatchAction is the decision taken for one row.
type MatchAction string

const (
	ActionNone   MatchAction = "" // Not yet resolved
	ActionCreate MatchAction = "create"
	ActionUpdate MatchAction = "update"
	ActionSkip   MatchAction = "skip"
	ActionError  MatchAction = "error"
)

// ErrRowNotFound is returned when a staged row does not exist.
var ErrRowNotFound = errors.New("staged row not found")

// StagedRow is the working-set form of one source row. Corrections overlay
// RawData; MatchAction and MatchedID are empty until a resolution pass.
type StagedRow struct {
	RowNumber   int               `json:"rowNumber"`
	RawData     map[string]string `json:"rawData"`
	Corrections map[string]string `json:"corrections,omitempty"`
	MatchAction MatchAction       `json:"matchAction,omitempty"`
	MatchedID   string            `json:"matchedId,omitempty"`
}

// ResolvedValue returns the effective value of column: the correction when
// present, else the raw value.
func ResolvedValue(row StagedRow, column string) string {
	if v, ok := row.Corrections[column]; ok {
		return v
	}
	return row.RawData[column]
}

// Resolved returns the row with all corrections applied.
func (r StagedRow) Resolved() map[string]string {
	out := make(map[string]string, len(r.RawData))
	for col := range r.RawData {
		out[col] = ResolvedValue(r, col)
	}
	for col, v := range r.Corrections {
		out[col] = v
	}
	return out
}

// ValueDecision is the match decision for every row sharing one column value.
type ValueDecision struct {
	Value     string
	Action    MatchAction
	MatchedID string
}

// RowStore persists staged rows per import and answers column lookups by
// logical column name. Implementations hide engine-specific JSON path syntax.
type RowStore interface {
	// InsertRows stages rows. A row number already staged for the import
	// keeps its existing row, so a window can be staged again after a failure.
	InsertRows(ctx context.Context, importID string, rows []StagedRow) error
	Rows(ctx context.Context, importID string, offset, limit int) ([]StagedRow, error)
	ColumnValue(ctx context.Context, importID string, rowNumber int, column string) (string, error)
	SetCorrection(ctx context.Context, importID string, rowNumber int, column, value string) error

	// ResetMatches clears every decision of the import.
	ResetMatches(ctx context.Context, importID string) error
	// DistinctValues returns the distinct non-blank resolved values of column.
	DistinctValues(ctx context.Context, importID, column string) ([]string, error)
	// ApplyDecisions writes one decision per value to every undecided row
	// whose trimmed resolved value of column equals it.
	ApplyDecisions(ctx context.Context, importID, column string, decisions []ValueDecision) (int64, error)
	// SetDefaultAction decides every row still undecided.
	SetDefaultAction(ctx context.Context, importID string, action MatchAction) (int64, error)
	CountByAction(ctx context.Context, importID string) (map[MatchAction]int, error)
	DeleteImport(ctx context.Context, importID string) error
}

// MemoryRowStore is an in-process RowStore.
type MemoryRowStore struct {
	mu      sync.RWMutex
	imports map[string][]StagedRow // ordered by RowNumber
}

// NewMemoryRowStore creates an empty store.
func NewMemoryRowStore() *MemoryRowStore {
	return &MemoryRowStore{imports: make(map[string][]StagedRow)}
}

var _ RowStore = (*MemoryRowStore)(nil)

func (s *MemoryRowStore) InsertRows(_ context.Context, importID string, rows []StagedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.imports[importID]
	seen := make(map[int]bool, len(existing))
	for _, r := range existing {
		seen[r.RowNumber] = true
	}
	for _, r := range rows {
		if seen[r.RowNumber] {
			continue
		}
		seen[r.RowNumber] = true
		existing = append(existing, copyRow(r))
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].RowNumber < existing[j].RowNumber })
	s.imports[importID] = existing
	return nil
}

func (s *MemoryRowStore) Rows(_ context.Context, importID string, offset, limit int) ([]StagedRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.imports[importID]
	if offset >= len(rows) {
		return nil, nil
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]StagedRow, 0, end-offset)
	for _, r := range rows[offset:end] {
		out = append(out, copyRow(r))
	}
	return out, nil
}

func (s *MemoryRowStore) ColumnValue(_ context.Context, importID string, rowNumber int, column string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.find(importID, rowNumber)
	if i < 0 {
		return "", ErrRowNotFound
	}
	return ResolvedValue(s.imports[importID][i], column), nil
}

func (s *MemoryRowStore) SetCorrection(_ context.Context, importID string, rowNumber int, column, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(importID, rowNumber)
	if i < 0 {
		return ErrRowNotFound
	}
	row := &s.imports[importID][i]
	if row.Corrections == nil {
		row.Corrections = make(map[string]string)
	}
	row.Corrections[column] = value
	return nil
}

func (s *MemoryRowStore) ResetMatches(_ context.Context, importID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.imports[importID]
	for i := range rows {
		rows[i].MatchAction = ActionNone
		rows[i].MatchedID = ""
	}
	return nil
}

func (s *MemoryRowStore) DistinctValues(_ context.Context, importID, column string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range s.imports[importID] {
		v := strings.TrimSpace(ResolvedValue(r, column))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryRowStore) ApplyDecisions(_ context.Context, importID, column string, decisions []ValueDecision) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byValue := make(map[string]ValueDecision, len(decisions))
	for _, d := range decisions {
		byValue[d.Value] = d
	}

	var n int64
	rows := s.imports[importID]
	for i := range rows {
		if rows[i].MatchAction != ActionNone {
			continue
		}
		d, ok := byValue[strings.TrimSpace(ResolvedValue(rows[i], column))]
		if !ok {
			continue
		}
		rows[i].MatchAction = d.Action
		rows[i].MatchedID = d.MatchedID
		n++
	}
	return n, nil
}

func (s *MemoryRowStore) SetDefaultAction(_ context.Context, importID string, action MatchAction) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	rows := s.imports[importID]
	for i := range rows {
		if rows[i].MatchAction == ActionNone {
			rows[i].MatchAction = action
			n++
		}
	}
	return n, nil
}

func (s *MemoryRowStore) CountByAction(_ context.Context, importID string) (map[MatchAction]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[MatchAction]int)
	for _, r := range s.imports[importID] {
		counts[r.MatchAction]++
	}
	return counts, nil
}

func (s *MemoryRowStore) DeleteImport(_ context.Context, importID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.imports, importID)
	return nil
}

// find returns the index of rowNumber or -1. Caller holds the lock.
func (s *MemoryRowStore) find(importID string, rowNumber int) int {
	rows := s.imports[importID]
	i := sort.Search(len(rows), func(i int) bool { return rows[i].RowNumber >= rowNumber })
	if i < len(rows) && rows[i].RowNumber == rowNumber {
		return i
	}
	return -1
}

func copyRow(r StagedRow) StagedRow {
	out := r
	out.RawData = make(map[string]string, len(r.RawData))
	for k, v := range r.RawData {
		out.RawData[k] = v
	}
	if r.Corrections != nil {
		out.Corrections = make(map[string]string, len(r.Corrections))
		for k, v := range r.Corrections {
			out.Corrections[k] = v
		}
	}
	return out
}
