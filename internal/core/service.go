package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrFileTooLarge is returned when an upload exceeds the size limit.
var ErrFileTooLarge = errors.New("file too large")

// suggestSampleRows is how many data rows feed type inference for
// mapping suggestions and file detection.
const suggestSampleRows = 50

// ServiceConfig configures a Service.
type ServiceConfig struct {
	UploadDir        string
	HeaderOffset     int
	DecimalSeparator string
	Counter          RowCounter
	Company          CompanyMatcherOptions
	StageBatchSize   int
	MaxConcurrent    int
	MaxWait          time.Duration
}

// Service is the import workflow behind the HTTP API and the CLI: it keeps
// uploaded files, analyzes them, previews resolution and stages rows.
type Service struct {
	cfg     ServiceConfig
	store   RowStore
	preview *PreviewService
	stager  *Stager
	runner  *ImportRunner
	limiter *RunLimiter
	owners  uploadOwners
}

// NewService creates a Service. The upload directory is created if missing.
func NewService(source RecordSource, store RowStore, locker Locker, cfg ServiceConfig) (*Service, error) {
	if cfg.UploadDir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	if cfg.Counter == (RowCounter{}) {
		cfg.Counter = NewRowCounter()
	}

	stager := NewStager(store, locker, cfg.HeaderOffset)
	if cfg.StageBatchSize > 0 {
		stager.batchSize = cfg.StageBatchSize
	}

	preview := NewPreviewService(source, PreviewConfig{
		Counter:          cfg.Counter,
		HeaderOffset:     cfg.HeaderOffset,
		DecimalSeparator: cfg.DecimalSeparator,
		Company:          cfg.Company,
	})

	owners := uploadOwners{dir: cfg.UploadDir}

	return &Service{
		cfg:     cfg,
		store:   store,
		preview: preview,
		stager:  stager,
		runner:  NewImportRunner(source, store, locker, owners),
		limiter: NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		owners:  owners,
	}, nil
}

// Upload is a file accepted into the upload directory. Its ID doubles as
// the import id of everything staged from it.
type Upload struct {
	ID       string `json:"id"`
	FileName string `json:"fileName"`
	Size     int64  `json:"size"`
	Path     string `json:"-"`
}

// SaveUpload copies r into the upload directory on behalf of tenantID.
// Files larger than maxSize are rejected with ErrFileTooLarge; maxSize <= 0
// means no limit.
func (s *Service) SaveUpload(tenantID, fileName string, r io.Reader, maxSize int64) (Upload, error) {
	if tenantID == "" {
		return Upload{}, fmt.Errorf("tenant is required")
	}
	up := Upload{ID: uuid.New().String(), FileName: filepath.Base(fileName)}
	up.Path = s.uploadPath(up.ID)

	f, err := os.Create(up.Path)
	if err != nil {
		return Upload{}, fmt.Errorf("create upload: %w", err)
	}

	src := r
	if maxSize > 0 {
		src = io.LimitReader(r, maxSize+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxSize > 0 && n > maxSize {
		err = fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxSize)
	}
	if err == nil && n == 0 {
		err = ErrEmptyFile
	}
	if err == nil {
		err = s.owners.SetOwner(up.ID, tenantID)
	}
	if err != nil {
		os.Remove(up.Path)
		return Upload{}, err
	}

	up.Size = n
	slog.Debug("upload saved", "import_id", up.ID, "file", up.FileName, "bytes", n)
	return up, nil
}

// UploadPath returns the stored file of an upload owned by tenantID.
func (s *Service) UploadPath(tenantID, id string) (string, error) {
	if err := checkOwner(s.owners, id, tenantID); err != nil {
		return "", err
	}
	path := s.uploadPath(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrImportNotFound, id)
		}
		return "", err
	}
	return path, nil
}

func (s *Service) uploadPath(id string) string {
	return filepath.Join(s.cfg.UploadDir, id+".csv")
}

// uploadOwners keeps the tenant of each upload in a sidecar file next to it.
type uploadOwners struct {
	dir string
}

func (o uploadOwners) path(id string) string {
	return filepath.Join(o.dir, id+".tenant")
}

// SetOwner records tenantID as the owner of upload id.
func (o uploadOwners) SetOwner(id, tenantID string) error {
	if err := os.WriteFile(o.path(id), []byte(tenantID), 0o600); err != nil {
		return fmt.Errorf("record upload owner: %w", err)
	}
	return nil
}

// Owner returns the tenant that uploaded id.
func (o uploadOwners) Owner(id string) (string, error) {
	if uuid.Validate(id) != nil {
		return "", fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	b, err := os.ReadFile(o.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrImportNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("read upload owner: %w", err)
	}
	return string(b), nil
}

func (o uploadOwners) remove(id string) error {
	if err := os.Remove(o.path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload owner: %w", err)
	}
	return nil
}

// FileInfo describes the structure of a delimited file.
type FileInfo struct {
	Delimiter string                   `json:"delimiter"`
	Header    []string                 `json:"header"`
	RowCount  RowCount                 `json:"rowCount"`
	SizeBytes int64                    `json:"sizeBytes"`
	Types     map[string]TypeInference `json:"types"` // Keyed by column
}

// DetectFile reports the delimiter, header, row count and inferred column
// types of the file at path.
func (s *Service) DetectFile(path string) (*FileInfo, error) {
	counter := s.cfg.Counter
	counter.HeaderOffset = s.cfg.HeaderOffset
	count, err := counter.Count(path)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	file, samples, err := s.sample(path)
	if err != nil {
		return nil, err
	}

	info := &FileInfo{
		Delimiter: DelimiterName(file.Delimiter),
		Header:    file.Header,
		RowCount:  count,
		SizeBytes: file.Size,
		Types:     make(map[string]TypeInference, len(file.Header)),
	}
	for _, h := range file.Header {
		info.Types[h] = InferType(samples[h])
	}
	return info, nil
}

// Suggest proposes a column map for entity from the header and the first
// rows of the file at path.
func (s *Service) Suggest(entity EntityKind, path string) (ColumnMap, []MappingSuggestion, error) {
	def, err := Lookup(entity)
	if err != nil {
		return nil, nil, err
	}
	file, samples, err := s.sample(path)
	if err != nil {
		return nil, nil, err
	}
	columns, suggestions := SuggestMapping(def, file.Header, samples)
	return columns, suggestions, nil
}

// sample reads up to suggestSampleRows rows and returns the closed file
// with its non-blank values per column.
func (s *Service) sample(path string) (*CSVFile, map[string][]string, error) {
	file, err := OpenCSV(path, s.cfg.HeaderOffset)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	samples := make(map[string][]string, len(file.Header))
	for i := 0; i < suggestSampleRows; i++ {
		_, values, err := file.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		for col, v := range values {
			if v != "" {
				samples[col] = append(samples[col], v)
			}
		}
	}
	return file, samples, nil
}

// AnalyzeRequest asks for column statistics of a mapped file.
type AnalyzeRequest struct {
	Entity   EntityKind    `json:"entity" validate:"required"`
	FilePath string        `json:"-"`
	Columns  ColumnMap     `json:"columns" validate:"required,min=1"`
	Options  ImportOptions `json:"options"`
}

// FileAnalysis is the result of Analyze.
type FileAnalysis struct {
	Entity    EntityKind       `json:"entity"`
	Rows      int              `json:"rows"`
	Columns   []ColumnAnalysis `json:"columns"`
	HasErrors bool             `json:"hasErrors"`
}

// Analyze streams the whole file once through a ColumnAnalyzer with the
// request's corrections applied.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*FileAnalysis, error) {
	def, err := Lookup(req.Entity)
	if err != nil {
		return nil, err
	}

	var result *FileAnalysis
	err = s.limiter.Do(ctx, func() error {
		file, err := OpenCSV(req.FilePath, s.cfg.HeaderOffset)
		if err != nil {
			return err
		}
		defer file.Close()

		if err := ValidateMapping(def, req.Columns, file.Header); err != nil {
			return err
		}

		reader := &countingRowReader{RowReader: CorrectedReader{RowReader: file, Corrections: req.Options.Corrections}, ctx: ctx}
		analyzer := NewColumnAnalyzer(def, req.Columns, AnalyzeOptions{
			DateFormats:      req.Options.DateFormats,
			DecimalSeparator: s.cfg.DecimalSeparator,
		})
		columns, err := analyzer.Analyze(reader)
		if err != nil {
			return err
		}

		result = &FileAnalysis{Entity: def.Kind, Rows: reader.rows, Columns: columns}
		for _, c := range columns {
			if c.HasErrors() {
				result.HasErrors = true
			}
		}
		return nil
	})
	return result, err
}

// countingRowReader counts rows and stops on cancellation.
type countingRowReader struct {
	RowReader
	ctx  context.Context
	rows int
}

func (r *countingRowReader) Next() (int, map[string]string, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, nil, err
	}
	n, values, err := r.RowReader.Next()
	if err == nil {
		r.rows++
	}
	return n, values, err
}

// Preview runs a preview while holding a limiter slot.
func (s *Service) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	var result *PreviewResult
	err := s.limiter.Do(ctx, func() error {
		var err error
		result, err = s.preview.Preview(ctx, req)
		return err
	})
	return result, err
}

// Stage stages one window of rows of an upload.
func (s *Service) Stage(ctx context.Context, req StageRequest) (StageResult, error) {
	if err := checkOwner(s.owners, req.ImportID, req.TenantID); err != nil {
		return StageResult{}, err
	}
	return s.stager.StageChunk(ctx, req)
}

// Resolve decides every staged row of an import.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (ResolveSummary, error) {
	return s.runner.Resolve(ctx, req)
}

// Rows pages through the staged rows of an import owned by tenantID.
func (s *Service) Rows(ctx context.Context, tenantID, importID string, offset, limit int) ([]StagedRow, error) {
	if err := checkOwner(s.owners, importID, tenantID); err != nil {
		return nil, err
	}
	return s.store.Rows(ctx, importID, offset, limit)
}

// SetCorrection overrides one staged value. The next Resolve sees it.
func (s *Service) SetCorrection(ctx context.Context, tenantID, importID string, rowNumber int, column, value string) error {
	if err := checkOwner(s.owners, importID, tenantID); err != nil {
		return err
	}
	return s.store.SetCorrection(ctx, importID, rowNumber, column, value)
}

// DeleteImport drops the staged rows and the uploaded file of an import.
// The owner record goes last so a failed delete can be retried.
func (s *Service) DeleteImport(ctx context.Context, tenantID, importID string) error {
	if err := checkOwner(s.owners, importID, tenantID); err != nil {
		return err
	}
	if err := s.store.DeleteImport(ctx, importID); err != nil {
		return err
	}
	if err := os.Remove(s.uploadPath(importID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove upload: %w", err)
	}
	return s.owners.remove(importID)
}

// LimiterStatus reports limiter occupancy for health checks.
func (s *Service) LimiterStatus() RunLimiterStatus {
	return s.limiter.Status()
}

// WaitForRuns blocks until running previews and analyses finish or ctx ends.
func (s *Service) WaitForRuns(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
