package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/resolver/internal/core"
	"github.com/JonMunkholm/resolver/internal/logging"
	"github.com/JonMunkholm/resolver/internal/metrics"
)

// multipartMemory is how much of an upload form is buffered in memory
// before spilling to temporary files.
const multipartMemory = 32 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"limiter": s.service.LimiterStatus(),
	})
}

// entityView is the public shape of an entity definition.
type entityView struct {
	Kind     core.EntityKind       `json:"kind"`
	Label    string                `json:"label"`
	Fields   []fieldView           `json:"fields"`
	Matchers []core.MatchableField `json:"matchers"`
}

type fieldView struct {
	Name     string         `json:"name"`
	Label    string         `json:"label,omitempty"`
	Type     core.FieldType `json:"type"`
	Required bool           `json:"required,omitempty"`
	Options  []string       `json:"options,omitempty"`
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := core.All()
	views := make([]entityView, 0, len(defs))
	for _, def := range defs {
		v := entityView{Kind: def.Kind, Label: def.Label, Matchers: def.Matchers}
		for _, f := range def.Fields {
			v.Fields = append(v.Fields, fieldView{
				Name:     f.Name,
				Label:    f.Label,
				Type:     core.ResolveFieldType(f),
				Required: f.Required,
				Options:  f.Options,
			})
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}

// handleUpload stores a multipart "file" field and returns its import id.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Server.MaxUploadSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartMemory)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, core.ErrFileTooLarge)
			return
		}
		respondInvalid(w, r, fmt.Errorf("invalid form: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, errors.New("no file provided"))
		return
	}
	defer file.Close()

	tenantID := TenantFromContext(r.Context())
	up, err := s.service.SaveUpload(tenantID, header.Filename, file, maxSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	logging.WithImport(r.Context(), up.ID, tenantID, "").
		Info("file uploaded", "file", up.FileName, "bytes", up.Size)
	writeJSON(w, http.StatusCreated, up)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploadPath(w, r)
	if !ok {
		return
	}
	info, err := s.service.DetectFile(path)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploadPath(w, r)
	if !ok {
		return
	}
	entity := core.EntityKind(r.URL.Query().Get("entity"))
	if entity == "" {
		respondInvalid(w, r, errors.New("entity query parameter is required"))
		return
	}

	columns, suggestions, err := s.service.Suggest(entity, path)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns":     columns,
		"suggestions": suggestions,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploadPath(w, r)
	if !ok {
		return
	}
	var req core.AnalyzeRequest
	if !s.decode(w, r, &req) {
		return
	}
	req.FilePath = path

	result, err := s.service.Analyze(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// previewBody is the client part of a preview request. A nil SampleSize
// uses the configured default; 0 previews every row.
type previewBody struct {
	Entity     core.EntityKind    `json:"entity" validate:"required"`
	Columns    core.ColumnMap     `json:"columns" validate:"required,min=1"`
	Options    core.ImportOptions `json:"options"`
	SampleSize *int               `json:"sampleSize" validate:"omitempty,gte=0"`
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploadPath(w, r)
	if !ok {
		return
	}
	var body previewBody
	if !s.decode(w, r, &body) {
		return
	}

	req := core.PreviewRequest{
		Entity:     body.Entity,
		FilePath:   path,
		Columns:    body.Columns,
		Options:    body.Options,
		TenantID:   TenantFromContext(r.Context()),
		SampleSize: s.cfg.Import.SampleSize,
	}
	if body.SampleSize != nil {
		req.SampleSize = *body.SampleSize
	}

	result, err := s.service.Preview(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	metrics.ObservePreview(result)
	writeJSON(w, http.StatusOK, result)
}

type stageBody struct {
	StartRow    int              `json:"startRow" validate:"gte=1"`
	RowCount    int              `json:"rowCount" validate:"gte=1"`
	Corrections core.Corrections `json:"corrections,omitempty"`
}

func (s *Server) handleStage(w http.ResponseWriter, r *http.Request) {
	path, ok := s.uploadPath(w, r)
	if !ok {
		return
	}
	var body stageBody
	if !s.decode(w, r, &body) {
		return
	}

	result, err := s.service.Stage(r.Context(), core.StageRequest{
		ImportID:    chi.URLParam(r, "importID"),
		TenantID:    TenantFromContext(r.Context()),
		FilePath:    path,
		StartRow:    body.StartRow,
		RowCount:    body.RowCount,
		Corrections: body.Corrections,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveBody struct {
	Entity     core.EntityKind        `json:"entity" validate:"required"`
	Columns    core.ColumnMap         `json:"columns" validate:"required,min=1"`
	MatchField string                 `json:"matchField,omitempty"`
	Strategy   core.DuplicateStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=update skip create_new"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if !s.decode(w, r, &body) {
		return
	}

	importID := chi.URLParam(r, "importID")
	tenantID := TenantFromContext(r.Context())
	summary, err := s.service.Resolve(r.Context(), core.ResolveRequest{
		ImportID:   importID,
		TenantID:   tenantID,
		Entity:     body.Entity,
		Columns:    body.Columns,
		MatchField: body.MatchField,
		Strategy:   body.Strategy,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	metrics.ObserveResolve(body.Entity, summary)
	logging.WithImport(r.Context(), importID, tenantID, string(body.Entity)).
		Info("import resolved", "created", summary.Created, "updated", summary.Updated, "skipped", summary.Skipped)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	offset := parseIntParam(r, "offset", 0)
	limit := parseIntParam(r, "limit", 100)

	rows, err := s.service.Rows(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "importID"), offset, limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if rows == nil {
		rows = []core.StagedRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type correctionBody struct {
	Column string `json:"column" validate:"required"`
	Value  string `json:"value"`
}

func (s *Server) handleSetCorrection(w http.ResponseWriter, r *http.Request) {
	rowNumber, err := strconv.Atoi(chi.URLParam(r, "rowNumber"))
	if err != nil || rowNumber < 1 {
		respondInvalid(w, r, errors.New("row number must be a positive integer"))
		return
	}
	var body correctionBody
	if !s.decode(w, r, &body) {
		return
	}

	if err := s.service.SetCorrection(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "importID"), rowNumber, body.Column, body.Value); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteImport(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteImport(r.Context(), TenantFromContext(r.Context()), chi.URLParam(r, "importID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// uploadPath resolves the importID URL parameter to the request tenant's
// uploaded file, writing the error response when it does not exist.
func (s *Server) uploadPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path, err := s.service.UploadPath(TenantFromContext(r.Context()), chi.URLParam(r, "importID"))
	if err != nil {
		respondError(w, r, err)
		return "", false
	}
	return path, true
}

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		respondInvalid(w, r, fmt.Errorf("invalid JSON body: %w", err))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		respondInvalid(w, r, err)
		return false
	}
	return true
}

// parseIntParam parses a non-negative integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 0 {
		return defaultVal
	}
	return i
}
