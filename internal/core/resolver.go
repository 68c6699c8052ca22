package core

// resolver.go implements the bulk-loaded entity cache.
//
// A resolution run loads every record of an entity kind for one tenant in a
// single query, builds in-memory indexes and answers all further lookups from
// memory. This turns one query per CSV row into one query per entity kind.
//
// State machine: Unloaded -> Loaded(tenant). Loading for a different tenant
// discards every cache first. Lookups before a load fail with
// ErrResolverNotLoaded; they never fall through to the store.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrResolverNotLoaded is returned by lookups made before LoadForTeam for
// the same tenant and entity kind. It indicates a programming error.
var ErrResolverNotLoaded = errors.New("entity resolver not loaded")

// Record is an existing entity owned by a tenant.
type Record struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenantId"`
	Name       string            `json:"name"`
	Emails     []string          `json:"emails,omitempty"`
	Domains    []string          `json:"domains,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// RecordSource bulk-loads the records of one entity kind for a tenant.
// Records must be returned in ascending ID order.
type RecordSource interface {
	LoadRecords(ctx context.Context, tenantID string, def EntityDefinition) ([]Record, error)
}

// Resolution is the outcome of one lookup. Record is the first record in
// load order sharing the key; Count is how many records share it.
type Resolution struct {
	Record Record `json:"record"`
	Count  int    `json:"count"`
}

// Found reports whether any record matched.
func (r Resolution) Found() bool { return r.Count > 0 }

// Ambiguous reports whether more than one record shares the key.
func (r Resolution) Ambiguous() bool { return r.Count > 1 }

// LoadStats describes the cache of one entity kind.
type LoadStats struct {
	Kind     EntityKind       `json:"kind"`
	Records  int              `json:"records"`
	Keys     map[IndexKey]int `json:"keys"` // Distinct keys per index
	Duration time.Duration    `json:"duration"`
}

// entityCache holds the indexes of one entity kind. Buckets keep record
// positions in load order.
type entityCache struct {
	def     EntityDefinition
	records []Record
	indexes map[IndexKey]map[string][]int
	stats   LoadStats
}

// EntityResolver answers lookups against bulk-loaded records of one tenant.
// It is owned by a single resolution run and is not safe for concurrent use.
type EntityResolver struct {
	source   RecordSource
	defs     func(EntityKind) (EntityDefinition, error)
	tenantID string
	caches   map[EntityKind]*entityCache
	queries  int
}

// NewEntityResolver creates an unloaded resolver over source using the
// global entity registry.
func NewEntityResolver(source RecordSource) *EntityResolver {
	return &EntityResolver{
		source: source,
		defs:   Lookup,
		caches: make(map[EntityKind]*entityCache),
	}
}

// TenantID returns the tenant the caches belong to, or "".
func (r *EntityResolver) TenantID() string { return r.tenantID }

// Queries returns how many bulk loads have been issued to the source.
func (r *EntityResolver) Queries() int { return r.queries }

// IsLoaded reports whether kind is loaded for tenantID.
func (r *EntityResolver) IsLoaded(tenantID string, kind EntityKind) bool {
	_, ok := r.caches[kind]
	return ok && tenantID != "" && tenantID == r.tenantID
}

// Stats returns load statistics for every loaded kind.
func (r *EntityResolver) Stats() []LoadStats {
	out := make([]LoadStats, 0, len(r.caches))
	for _, c := range r.caches {
		out = append(out, c.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// LoadForTeam loads every record of kind owned by tenantID. It is a no-op
// when that pair is already loaded. Requesting a different tenant discards
// all caches. On failure nothing is cached for kind.
func (r *EntityResolver) LoadForTeam(ctx context.Context, tenantID string, kind EntityKind) error {
	if tenantID == "" {
		return fmt.Errorf("load %s: tenant id is required", kind)
	}
	if tenantID != r.tenantID {
		if r.tenantID != "" {
			slog.Debug("resolver tenant switch, discarding caches",
				"from_tenant", r.tenantID, "to_tenant", tenantID)
		}
		r.caches = make(map[EntityKind]*entityCache)
		r.tenantID = tenantID
	}
	if _, ok := r.caches[kind]; ok {
		return nil
	}

	def, err := r.defs(kind)
	if err != nil {
		return err
	}

	start := time.Now()
	r.queries++
	records, err := r.source.LoadRecords(ctx, tenantID, def)
	if err != nil {
		return fmt.Errorf("load %s records: %w", kind, err)
	}

	cache := buildCache(def, tenantID, records)
	cache.stats.Duration = time.Since(start)
	r.caches[kind] = cache

	slog.Debug("resolver cache loaded",
		"tenant_id", tenantID,
		"entity", kind,
		"records", len(cache.records),
		"duration_ms", cache.stats.Duration.Milliseconds(),
	)
	return nil
}

// buildCache indexes records in source order, which is ascending ID.
// Records owned by another tenant are dropped so no index can reach them.
func buildCache(def EntityDefinition, tenantID string, records []Record) *entityCache {
	kept := make([]Record, 0, len(records))
	for _, rec := range records {
		if rec.TenantID != "" && rec.TenantID != tenantID {
			continue
		}
		kept = append(kept, rec)
	}

	c := &entityCache{
		def:     def,
		records: kept,
		indexes: make(map[IndexKey]map[string][]int, len(def.Indexes)),
		stats:   LoadStats{Kind: def.Kind, Records: len(kept), Keys: make(map[IndexKey]int)},
	}
	for _, key := range def.Indexes {
		c.indexes[key] = make(map[string][]int)
	}

	for i, rec := range kept {
		for key, idx := range c.indexes {
			for _, raw := range recordKeys(rec, key) {
				k := NormalizeKey(key, raw)
				if k == "" {
					continue
				}
				if bucket := idx[k]; len(bucket) > 0 && bucket[len(bucket)-1] == i {
					continue // same record listed the key twice
				}
				idx[k] = append(idx[k], i)
			}
		}
	}

	for key, idx := range c.indexes {
		c.stats.Keys[key] = len(idx)
	}
	return c
}

// recordKeys returns the raw values of rec for an index.
func recordKeys(rec Record, key IndexKey) []string {
	switch key {
	case IndexID:
		return []string{rec.ID}
	case IndexEmail:
		return rec.Emails
	case IndexDomain:
		return rec.Domains
	case IndexName:
		return []string{rec.Name}
	default:
		if v, ok := rec.Attributes[string(key)]; ok {
			return []string{v}
		}
		return nil
	}
}

// NormalizeKey applies the lookup normalization for an index. It is used
// both when loading and when querying.
func NormalizeKey(key IndexKey, value string) string {
	switch key {
	case IndexEmail:
		return NormalizeEmail(value)
	case IndexDomain:
		return NormalizeDomain(value)
	case IndexID:
		return NormalizeID(value)
	default:
		// Names are matched case-sensitively
		return strings.TrimSpace(value)
	}
}

// NormalizeID trims and upper-cases an identifier. Crockford base32 is
// case-insensitive, so "01hzx..." and "01HZX..." name the same record.
func NormalizeID(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeDomain lower-cases and trims a domain, dropping a URL scheme,
// a leading "www." and any path so "https://www.Acme.com/about" is "acme.com".
func NormalizeDomain(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, ".")
}

// EmailDomain returns the normalized domain part of an email address, or "".
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return NormalizeDomain(email[i+1:])
}

func (r *EntityResolver) cache(tenantID string, kind EntityKind) (*entityCache, error) {
	if tenantID == "" || tenantID != r.tenantID {
		return nil, fmt.Errorf("%w: %s for tenant %q", ErrResolverNotLoaded, kind, tenantID)
	}
	c, ok := r.caches[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s for tenant %q", ErrResolverNotLoaded, kind, tenantID)
	}
	return c, nil
}

// Resolve looks up value in the index key of kind. A kind without that
// index resolves nothing.
func (r *EntityResolver) Resolve(tenantID string, kind EntityKind, key IndexKey, value string) (Resolution, error) {
	c, err := r.cache(tenantID, kind)
	if err != nil {
		return Resolution{}, err
	}
	return c.lookup(key, value), nil
}

func (c *entityCache) lookup(key IndexKey, value string) Resolution {
	idx, ok := c.indexes[key]
	if !ok {
		return Resolution{}
	}
	bucket := idx[NormalizeKey(key, value)]
	if len(bucket) == 0 {
		return Resolution{}
	}
	return Resolution{Record: c.records[bucket[0]], Count: len(bucket)}
}

// ResolveByID resolves an id within the tenant's records only.
func (r *EntityResolver) ResolveByID(tenantID string, kind EntityKind, id string) (Resolution, error) {
	return r.Resolve(tenantID, kind, IndexID, id)
}

// ResolveByEmail resolves a normalized email address.
func (r *EntityResolver) ResolveByEmail(tenantID string, kind EntityKind, email string) (Resolution, error) {
	return r.Resolve(tenantID, kind, IndexEmail, email)
}

// ResolveByDomain resolves a normalized domain.
func (r *EntityResolver) ResolveByDomain(tenantID string, kind EntityKind, domain string) (Resolution, error) {
	return r.Resolve(tenantID, kind, IndexDomain, domain)
}

// ResolveByName resolves an exact, case-sensitive name or title.
func (r *EntityResolver) ResolveByName(tenantID string, kind EntityKind, name string) (Resolution, error) {
	return r.Resolve(tenantID, kind, IndexName, name)
}

// ResolveMany resolves a batch of values against one index. The result is
// keyed by the input value and holds only values that matched.
func (r *EntityResolver) ResolveMany(tenantID string, kind EntityKind, key IndexKey, values []string) (map[string]Resolution, error) {
	c, err := r.cache(tenantID, kind)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Resolution, len(values))
	for _, v := range values {
		if res := c.lookup(key, v); res.Found() {
			out[v] = res
		}
	}
	return out, nil
}

// IndexKeyForField maps a matchable target field onto a cache index.
func IndexKeyForField(field string) IndexKey {
	switch strings.ToLower(field) {
	case "id":
		return IndexID
	case "email", "emails":
		return IndexEmail
	case "domain", "domains", "website":
		return IndexDomain
	case "name", "title", "company_name":
		return IndexName
	default:
		return IndexKey(field)
	}
}
