package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchMethod is how a preview row found its existing record.
type MatchMethod string

const (
	MethodNone      MatchMethod = ""
	MethodID        MatchMethod = "id"
	MethodAttribute MatchMethod = "attribute"
)

// ImportOptions is the user's configuration for one import.
type ImportOptions struct {
	DuplicateStrategy    DuplicateStrategy     `json:"duplicateStrategy,omitempty" validate:"omitempty,oneof=update skip create_new"`
	MatchField           string                `json:"matchField,omitempty"`
	DateFormats          map[string]DateFormat `json:"dateFormats,omitempty"`
	Corrections          Corrections           `json:"corrections,omitempty"`
	ResolveRelationships bool                  `json:"resolveRelationships"`
}

// PreviewRequest describes one preview run.
type PreviewRequest struct {
	Entity     EntityKind    `json:"entity" validate:"required"`
	FilePath   string        `json:"filePath" validate:"required"`
	Columns    ColumnMap     `json:"columns" validate:"required,min=1"`
	Options    ImportOptions `json:"options"`
	TenantID   string        `json:"tenantId" validate:"required"`
	SampleSize int           `json:"sampleSize" validate:"gte=0"` // 0 processes every row
}

// LinkMatch is the resolution of one related entity referenced by a row.
type LinkMatch struct {
	TargetEntity EntityKind `json:"targetEntity"`
	DisplayName  string     `json:"displayName,omitempty"`
	MatchType    MatchType  `json:"matchType"`
	MatchCount   int        `json:"matchCount"`
	MatchedID    string     `json:"matchedId,omitempty"`
}

// RowResult is the decision for one previewed row.
type RowResult struct {
	RowNumber     int                  `json:"rowNumber"` // 1-based data row
	Action        MatchAction          `json:"action"`
	Method        MatchMethod          `json:"method,omitempty"`
	MatchField    string               `json:"matchField,omitempty"`
	MatchedID     string               `json:"matchedId,omitempty"`
	MatchCount    int                  `json:"matchCount,omitempty"`
	Values        map[string]string    `json:"values"` // Keyed by target field
	Changed       []string             `json:"changed,omitempty"`
	Errors        []ValidationError    `json:"errors,omitempty"`
	Error         string               `json:"error,omitempty"`
	Relationships map[string]LinkMatch `json:"relationships,omitempty"`
}

// DuplicatePreview lists rows of the sample that share a match key.
type DuplicatePreview struct {
	Key        string `json:"key"`
	RowNumbers []int  `json:"rowNumbers"`
}

// PreviewResult is the outcome of a preview run. When IsSampled is true the
// counts are extrapolated from the processed rows and are not exact.
type PreviewResult struct {
	RunID            string             `json:"runId"`
	Entity           EntityKind         `json:"entity"`
	TotalRows        int                `json:"totalRows"`
	TotalRowsExact   bool               `json:"totalRowsExact"`
	ProcessedRows    int                `json:"processedRows"`
	IsSampled        bool               `json:"isSampled"`
	CreateCount      int                `json:"createCount"`
	UpdateCount      int                `json:"updateCount"`
	SkipCount        int                `json:"skipCount"`
	ErrorCount       int                `json:"errorCount"`
	Rows             []RowResult        `json:"rows"`
	Duplicates       []DuplicatePreview `json:"duplicates,omitempty"`
	ProcessingTimeMs int64              `json:"processingTimeMs"`
}

const maxDuplicateSamples = 10

// PreviewConfig configures a PreviewService.
type PreviewConfig struct {
	Counter          RowCounter
	HeaderOffset     int
	DecimalSeparator string
	Company          CompanyMatcherOptions
}

// PreviewService streams a bounded sample of a file through mapping and
// resolution and reports what an import would do. It never writes.
type PreviewService struct {
	source RecordSource
	cfg    PreviewConfig

	// rowFn resolves one row; tests replace it to inject failures.
	rowFn func(run *previewRun, rowNumber int, raw map[string]string) (RowResult, error)
}

// NewPreviewService creates a preview service over source.
func NewPreviewService(source RecordSource, cfg PreviewConfig) *PreviewService {
	s := &PreviewService{source: source, cfg: cfg}
	s.rowFn = (*previewRun).resolveRow
	return s
}

// previewRun is the per-run state. The resolver is scoped to the run.
type previewRun struct {
	req       PreviewRequest
	def       EntityDefinition
	resolver  *EntityResolver
	validator *RowValidator
	matchers  []MatchableField // Tiers tried in order
	behavior  MatchBehavior
	company   *CompanyMatcher
	relations map[EntityKind]*RelationshipMatcher
	fatal     error
}

// Preview runs the preview described by req.
func (s *PreviewService) Preview(ctx context.Context, req PreviewRequest) (*PreviewResult, error) {
	start := time.Now()

	def, err := Lookup(req.Entity)
	if err != nil {
		return nil, err
	}
	if req.TenantID == "" {
		return nil, fmt.Errorf("preview %s: tenant id is required", req.Entity)
	}

	counter := s.cfg.Counter
	counter.HeaderOffset = s.cfg.HeaderOffset
	total, err := counter.Count(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("count rows: %w", err)
	}

	file, err := OpenCSV(req.FilePath, s.cfg.HeaderOffset)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := ValidateMapping(def, req.Columns, file.Header); err != nil {
		return nil, err
	}

	run, err := s.newRun(ctx, req, def)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{
		RunID:          uuid.NewString(),
		Entity:         def.Kind,
		TotalRows:      total.Rows,
		TotalRowsExact: total.Exact,
		Rows:           []RowResult{},
	}

	reader := CorrectedReader{RowReader: file, Corrections: req.Options.Corrections}
	keys := make(map[string][]int)
	reachedEOF := false

	for req.SampleSize <= 0 || result.ProcessedRows < req.SampleSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rowNumber, raw, err := reader.Next()
		if err == io.EOF {
			reachedEOF = true
			break
		}

		var row RowResult
		if err != nil {
			// Malformed records fail alone
			row = RowResult{RowNumber: rowNumber, Action: ActionError, Error: err.Error()}
		} else {
			row = s.processRow(run, rowNumber, raw)
		}
		if run.fatal != nil {
			return nil, run.fatal
		}

		result.ProcessedRows++
		result.Rows = append(result.Rows, row)
		if key := run.duplicateKey(row); key != "" {
			keys[key] = append(keys[key], row.RowNumber)
		}
	}

	if reachedEOF {
		result.TotalRows = result.ProcessedRows
		result.TotalRowsExact = true
	} else if result.TotalRows < result.ProcessedRows {
		result.TotalRows = result.ProcessedRows
	}

	tallyPreview(result)
	result.Duplicates = duplicatePreviews(keys)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	slog.Debug("preview complete",
		"tenant_id", req.TenantID,
		"entity", def.Kind,
		"run_id", result.RunID,
		"processed", result.ProcessedRows,
		"total", result.TotalRows,
		"sampled", result.IsSampled,
		"bulk_loads", run.resolver.Queries(),
	)
	return result, nil
}

// newRun loads every cache the run needs up front so per-row work is pure lookups.
func (s *PreviewService) newRun(ctx context.Context, req PreviewRequest, def EntityDefinition) (*previewRun, error) {
	run := &previewRun{
		req:       req,
		def:       def,
		resolver:  NewEntityResolver(s.source),
		validator: NewRowValidator(def, req.Columns, req.Options.DateFormats, s.cfg.DecimalSeparator),
		relations: make(map[EntityKind]*RelationshipMatcher),
	}

	primary, ok := SelectMatcher(def, req.Columns, req.Options.MatchField)
	run.behavior = primary.Behavior
	if req.Options.DuplicateStrategy != "" {
		run.behavior = req.Options.DuplicateStrategy.Behavior()
	}
	if ok && run.behavior != AlwaysCreate {
		// The id tier always runs first when mapped
		if id, ok := def.Matcher("id"); ok && req.Columns.Column("id") != "" && primary.Field != "id" {
			run.matchers = append(run.matchers, id)
		}
		run.matchers = append(run.matchers, primary)
		if err := run.resolver.LoadForTeam(ctx, req.TenantID, def.Kind); err != nil {
			return nil, err
		}
	}

	if !req.Options.ResolveRelationships {
		return run, nil
	}
	for _, link := range def.Links {
		if !run.linkMapped(link) {
			continue
		}
		if link.TargetEntity == EntityCompany {
			if run.company == nil {
				run.company = NewCompanyMatcher(run.resolver, req.TenantID, s.cfg.Company)
				if err := run.company.Load(ctx); err != nil {
					return nil, err
				}
			}
			continue
		}
		if _, ok := run.relations[link.TargetEntity]; !ok {
			m := NewRelationshipMatcher(run.resolver, req.TenantID, link.TargetEntity)
			if err := m.Load(ctx); err != nil {
				return nil, err
			}
			run.relations[link.TargetEntity] = m
		}
	}
	return run, nil
}

func (run *previewRun) linkMapped(link EntityLink) bool {
	for _, f := range []string{link.Source, link.IDSource, link.EmailSource, link.DomainSource} {
		if f != "" && run.req.Columns.Column(f) != "" {
			return true
		}
	}
	return false
}

// processRow runs rowFn with failures and panics captured on the row.
// ErrResolverNotLoaded is recorded as fatal for the whole run instead.
func (s *PreviewService) processRow(run *previewRun, rowNumber int, raw map[string]string) (row RowResult) {
	defer func() {
		if r := recover(); r != nil {
			row = run.rowFailed(rowNumber, fmt.Errorf("panic: %v", r))
		}
	}()

	row, err := s.rowFn(run, rowNumber, raw)
	if err != nil {
		return run.rowFailed(rowNumber, err)
	}
	return row
}

// resolveRow maps, validates and resolves one row.
func (run *previewRun) resolveRow(rowNumber int, raw map[string]string) (RowResult, error) {
	row := RowResult{RowNumber: rowNumber}

	row.Values = make(map[string]string, len(run.req.Columns))
	for _, field := range run.req.Columns.Fields() {
		row.Values[field] = strings.TrimSpace(raw[run.req.Columns.Column(field)])
	}

	if v := run.validator.ValidateRow(row.Values); !v.Valid {
		row.Errors = v.Errors
	}

	if err := run.match(&row); err != nil {
		return row, err
	}
	if run.req.Options.ResolveRelationships {
		if err := run.enrich(&row); err != nil {
			return row, err
		}
	}
	return row, nil
}

func (run *previewRun) rowFailed(rowNumber int, err error) RowResult {
	if errors.Is(err, ErrResolverNotLoaded) {
		run.fatal = err
	}
	slog.Warn("preview row failed",
		"tenant_id", run.req.TenantID,
		"entity", run.def.Kind,
		"row", rowNumber,
		"error", err,
	)
	return RowResult{RowNumber: rowNumber, Action: ActionError, Error: err.Error()}
}

// match tries each tier in order; the first hit decides the row.
func (run *previewRun) match(row *RowResult) error {
	for _, m := range run.matchers {
		value := row.Values[m.Field]
		if value == "" {
			continue
		}
		key := IndexKeyForField(m.Field)
		if key == IndexID && !IsValidID(value) {
			continue
		}
		res, err := run.resolver.Resolve(run.req.TenantID, run.def.Kind, key, value)
		if err != nil {
			return err
		}
		if !res.Found() {
			continue
		}
		row.Action = ActionUpdate
		row.MatchField = m.Field
		row.MatchedID = res.Record.ID
		row.MatchCount = res.Count
		row.Method = MethodAttribute
		if key == IndexID {
			row.Method = MethodID
		}
		row.Changed = changedFields(res.Record, row.Values)
		return nil
	}
	row.Action = run.behavior.MissAction()
	return nil
}

// enrich resolves every mapped link of the row.
func (run *previewRun) enrich(row *RowResult) error {
	for _, link := range run.def.Links {
		if !run.linkMapped(link) {
			continue
		}
		v := func(field string) string {
			if field == "" {
				return ""
			}
			return row.Values[field]
		}

		var lm LinkMatch
		if link.TargetEntity == EntityCompany {
			res, err := run.company.Match(CompanyMatchInput{
				ID:     v(link.IDSource),
				Name:   v(link.Source),
				Domain: v(link.DomainSource),
				Email:  v(link.EmailSource),
			})
			if err != nil {
				return err
			}
			lm = LinkMatch{
				TargetEntity: EntityCompany,
				DisplayName:  res.CompanyName,
				MatchType:    res.MatchType,
				MatchCount:   res.MatchCount,
				MatchedID:    res.CompanyID,
			}
		} else {
			res, err := run.relations[link.TargetEntity].Match(RelationshipMatchInput{
				ID:    v(link.IDSource),
				Email: v(link.EmailSource),
				Name:  v(link.Source),
			})
			if err != nil {
				return err
			}
			lm = LinkMatch{
				TargetEntity: link.TargetEntity,
				DisplayName:  res.DisplayName,
				MatchType:    res.MatchType,
				MatchCount:   res.MatchCount,
				MatchedID:    res.MatchedRecordID,
			}
		}

		if row.Relationships == nil {
			row.Relationships = make(map[string]LinkMatch)
		}
		row.Relationships[link.Key] = lm
	}
	return nil
}

// duplicateKey returns the normalized match key of a row for in-file
// duplicate detection.
func (run *previewRun) duplicateKey(row RowResult) string {
	if len(run.matchers) == 0 || row.Values == nil {
		return ""
	}
	m := run.matchers[len(run.matchers)-1]
	v := NormalizeKey(IndexKeyForField(m.Field), row.Values[m.Field])
	if v == "" {
		return ""
	}
	return m.Field + ":" + v
}

// changedFields lists incoming non-blank values that differ from the record.
func changedFields(rec Record, values map[string]string) []string {
	var changed []string
	for field, incoming := range values {
		if incoming == "" {
			continue
		}
		current, known := recordValue(rec, field)
		if known && current != incoming {
			changed = append(changed, field)
		}
	}
	sort.Strings(changed)
	return changed
}

func recordValue(rec Record, field string) (string, bool) {
	switch IndexKeyForField(field) {
	case IndexID:
		return rec.ID, true
	case IndexName:
		return rec.Name, true
	case IndexEmail:
		if len(rec.Emails) > 0 {
			return rec.Emails[0], true
		}
		return "", true
	case IndexDomain:
		if len(rec.Domains) > 0 {
			return rec.Domains[0], true
		}
		return "", true
	}
	v, ok := rec.Attributes[field]
	return v, ok
}

// tallyPreview counts actions and scales them when only part of the file
// was processed.
func tallyPreview(result *PreviewResult) {
	var create, update, skip, failed int
	for _, r := range result.Rows {
		switch r.Action {
		case ActionCreate:
			create++
		case ActionUpdate:
			update++
		case ActionSkip:
			skip++
		case ActionError:
			failed++
		}
	}

	result.IsSampled = result.ProcessedRows > 0 && result.TotalRows > result.ProcessedRows
	if result.IsSampled {
		factor := float64(result.TotalRows) / float64(result.ProcessedRows)
		create = ScaleCount(create, factor)
		update = ScaleCount(update, factor)
		skip = ScaleCount(skip, factor)
		failed = ScaleCount(failed, factor)
	}

	result.CreateCount = create
	result.UpdateCount = update
	result.SkipCount = skip
	result.ErrorCount = failed
}

// ScaleCount extrapolates a sampled count.
func ScaleCount(count int, factor float64) int {
	return int(math.Round(float64(count) * factor))
}

func duplicatePreviews(keys map[string][]int) []DuplicatePreview {
	var out []DuplicatePreview
	for key, rows := range keys {
		if len(rows) > 1 {
			out = append(out, DuplicatePreview{Key: key, RowNumbers: rows})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumbers[0] < out[j].RowNumbers[0] })
	if len(out) > maxDuplicateSamples {
		out = out[:maxDuplicateSamples]
	}
	return out
}
