package core

// stage.go runs the write side of an import against the staged-row working
// set. Large files are staged in disjoint (startRow, rowCount) windows driven
// by an outside caller; a cancelled import simply stops sending windows.
// Staging and resolution for one tenant never overlap: both hold the tenant's
// import lock for their whole duration.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var (
	// ErrImportLocked is returned when another import holds the tenant's lock.
	ErrImportLocked = errors.New("import already running for tenant")
	// ErrImportNotFound is returned when an import has no staged rows or
	// belongs to another tenant.
	ErrImportNotFound = errors.New("import not found")
)

// Owners reports the tenant an import belongs to. Unknown imports yield
// ErrImportNotFound.
type Owners interface {
	Owner(importID string) (string, error)
}

// checkOwner fails with ErrImportNotFound unless tenantID owns importID.
// Another tenant's import is reported as missing, not as forbidden.
func checkOwner(owners Owners, importID, tenantID string) error {
	owner, err := owners.Owner(importID)
	if err != nil {
		return err
	}
	if tenantID == "" || owner != tenantID {
		return fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return nil
}

// Locker serializes imports per tenant. Lock fails with ErrImportLocked when
// the key is held; the returned function releases it.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// TenantLockKey is the lock key guarding a tenant's imports.
func TenantLockKey(tenantID string) string {
	return "import:tenant:" + tenantID
}

// DefaultStageBatchSize is how many rows are inserted per store call.
const DefaultStageBatchSize = 500

// StageRequest is one window of rows to stage. StartRow is the 1-based data
// row number of the first row in the window.
type StageRequest struct {
	ImportID    string      `json:"importId" validate:"required"`
	TenantID    string      `json:"tenantId" validate:"required"`
	FilePath    string      `json:"filePath" validate:"required"`
	StartRow    int         `json:"startRow" validate:"gte=1"`
	RowCount    int         `json:"rowCount" validate:"gte=1"`
	Corrections Corrections `json:"corrections,omitempty"`
}

// StageResult reports what a chunk staged.
type StageResult struct {
	ImportID string `json:"importId"`
	StartRow int    `json:"startRow"`
	Staged   int    `json:"staged"`
	LastRow  int    `json:"lastRow"`
	Done     bool   `json:"done"` // The file ended inside this window
}

// Stager streams windows of a file into a RowStore.
type Stager struct {
	store        RowStore
	locker       Locker
	headerOffset int
	batchSize    int
}

// NewStager creates a Stager.
func NewStager(store RowStore, locker Locker, headerOffset int) *Stager {
	return &Stager{
		store:        store,
		locker:       locker,
		headerOffset: headerOffset,
		batchSize:    DefaultStageBatchSize,
	}
}

// StageChunk stages rows [StartRow, StartRow+RowCount) under the tenant lock.
// Blank rows keep their numbers but are not staged.
func (s *Stager) StageChunk(ctx context.Context, req StageRequest) (StageResult, error) {
	if req.StartRow < 1 || req.RowCount < 1 {
		return StageResult{}, fmt.Errorf("invalid chunk window %d+%d", req.StartRow, req.RowCount)
	}

	unlock, err := s.locker.Lock(ctx, TenantLockKey(req.TenantID))
	if err != nil {
		return StageResult{}, err
	}
	defer releaseLock(unlock, req.TenantID)

	file, err := OpenCSV(req.FilePath, s.headerOffset)
	if err != nil {
		return StageResult{}, err
	}
	defer file.Close()

	result := StageResult{ImportID: req.ImportID, StartRow: req.StartRow}
	end := req.StartRow + req.RowCount
	batch := make([]StagedRow, 0, s.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.InsertRows(ctx, req.ImportID, batch); err != nil {
			return fmt.Errorf("insert staged rows: %w", err)
		}
		result.Staged += len(batch)
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rowNumber, values, err := file.Next()
		if err == io.EOF {
			result.Done = true
			break
		}
		if err != nil {
			return result, err
		}
		if rowNumber < req.StartRow {
			continue
		}
		if rowNumber >= end {
			break
		}

		batch = append(batch, stagedRow(rowNumber, values, req.Corrections))
		result.LastRow = rowNumber
		if len(batch) >= s.batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	slog.Debug("import chunk staged",
		"import_id", req.ImportID,
		"tenant_id", req.TenantID,
		"start_row", req.StartRow,
		"staged", result.Staged,
		"done", result.Done,
	)
	return result, nil
}

// stagedRow keeps the raw values and records applicable corrections as an overlay.
func stagedRow(rowNumber int, values map[string]string, corrections Corrections) StagedRow {
	row := StagedRow{RowNumber: rowNumber, RawData: values}
	for col, v := range values {
		fixed, ok := corrections[col][v]
		if !ok {
			continue
		}
		if row.Corrections == nil {
			row.Corrections = make(map[string]string)
		}
		row.Corrections[col] = fixed
	}
	return row
}

// ImportRunner resolves staged imports. Each Resolve call builds a fresh
// resolver so caches never outlive one run.
type ImportRunner struct {
	source RecordSource
	store  RowStore
	locker Locker
	owners Owners
}

// NewImportRunner creates an ImportRunner. Only imports that owners assigns
// to the request's tenant are resolved.
func NewImportRunner(source RecordSource, store RowStore, locker Locker, owners Owners) *ImportRunner {
	return &ImportRunner{source: source, store: store, locker: locker, owners: owners}
}

// Resolve runs a MatchResolver pass under the tenant lock.
func (r *ImportRunner) Resolve(ctx context.Context, req ResolveRequest) (ResolveSummary, error) {
	if err := checkOwner(r.owners, req.ImportID, req.TenantID); err != nil {
		return ResolveSummary{}, err
	}

	unlock, err := r.locker.Lock(ctx, TenantLockKey(req.TenantID))
	if err != nil {
		return ResolveSummary{}, err
	}
	defer releaseLock(unlock, req.TenantID)

	rows, err := r.store.Rows(ctx, req.ImportID, 0, 1)
	if err != nil {
		return ResolveSummary{}, fmt.Errorf("read staged rows: %w", err)
	}
	if len(rows) == 0 {
		return ResolveSummary{}, fmt.Errorf("%w: %s", ErrImportNotFound, req.ImportID)
	}

	return NewMatchResolver(NewEntityResolver(r.source), r.store).Resolve(ctx, req)
}

// releaseLock unlocks with a fresh context so a cancelled request still
// frees the tenant.
func releaseLock(unlock func(context.Context) error, tenantID string) {
	if err := unlock(context.Background()); err != nil {
		slog.Error("release import lock failed", "tenant_id", tenantID, "error", err)
	}
}
