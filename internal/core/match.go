package core

import (
	"context"
	"fmt"
	"log/slog"
)

// ResolveRequest identifies one resolution pass over a staged import.
type ResolveRequest struct {
	ImportID   string
	TenantID   string
	Entity     EntityKind
	Columns    ColumnMap
	MatchField string            // Matchable target field; first mapped matcher when empty
	Strategy   DuplicateStrategy // Overrides the matcher's behavior when set
}

// ResolveSummary reports the decisions written by a resolution pass.
type ResolveSummary struct {
	MatchField     string `json:"matchField,omitempty"`
	DistinctValues int    `json:"distinctValues"`
	MatchedValues  int    `json:"matchedValues"`
	AmbiguousKeys  int    `json:"ambiguousKeys"`
	Created        int    `json:"created"`
	Updated        int    `json:"updated"`
	Skipped        int    `json:"skipped"`
}

// MatchResolver writes a match decision to every staged row of an import.
// Store round trips are proportional to distinct values, not rows.
type MatchResolver struct {
	resolver *EntityResolver
	store    RowStore
}

// NewMatchResolver creates a MatchResolver.
func NewMatchResolver(resolver *EntityResolver, store RowStore) *MatchResolver {
	return &MatchResolver{resolver: resolver, store: store}
}

// Resolve resets all decisions of the import, resolves the distinct values
// of the id column and then the match column in one batch each, and sweeps
// undecided rows into the behavior's miss action. It is safe to re-run after
// a failure.
func (m *MatchResolver) Resolve(ctx context.Context, req ResolveRequest) (ResolveSummary, error) {
	def, err := Lookup(req.Entity)
	if err != nil {
		return ResolveSummary{}, err
	}

	if err := m.store.ResetMatches(ctx, req.ImportID); err != nil {
		return ResolveSummary{}, fmt.Errorf("reset matches: %w", err)
	}

	matcher, ok := SelectMatcher(def, req.Columns, req.MatchField)
	behavior := matcher.Behavior
	if req.Strategy != "" {
		behavior = req.Strategy.Behavior()
	}

	var summary ResolveSummary
	if ok && behavior != AlwaysCreate {
		summary.MatchField = matcher.Field
		// Ids win over attributes: decide id hits first, leave misses open
		if id, hasID := def.Matcher("id"); hasID && matcher.Field != "id" && req.Columns.Column("id") != "" {
			if err := m.resolveColumn(ctx, req, def, id, "", &summary); err != nil {
				return ResolveSummary{}, err
			}
		}
		if err := m.resolveColumn(ctx, req, def, matcher, behavior.MissAction(), &summary); err != nil {
			return ResolveSummary{}, err
		}
	}

	if _, err := m.store.SetDefaultAction(ctx, req.ImportID, behavior.MissAction()); err != nil {
		return ResolveSummary{}, fmt.Errorf("set default action: %w", err)
	}

	counts, err := m.store.CountByAction(ctx, req.ImportID)
	if err != nil {
		return ResolveSummary{}, fmt.Errorf("count actions: %w", err)
	}
	summary.Created = counts[ActionCreate]
	summary.Updated = counts[ActionUpdate]
	summary.Skipped = counts[ActionSkip]

	slog.Debug("import resolved",
		"import_id", req.ImportID,
		"tenant_id", req.TenantID,
		"entity", req.Entity,
		"match_field", summary.MatchField,
		"distinct_values", summary.DistinctValues,
		"created", summary.Created,
		"updated", summary.Updated,
		"skipped", summary.Skipped,
	)
	return summary, nil
}

// resolveColumn decides every undecided row by its value of the matcher's
// column. Misses get missAction, or stay undecided when it is ActionNone.
func (m *MatchResolver) resolveColumn(ctx context.Context, req ResolveRequest, def EntityDefinition, matcher MatchableField, missAction MatchAction, summary *ResolveSummary) error {
	if err := m.resolver.LoadForTeam(ctx, req.TenantID, def.Kind); err != nil {
		return err
	}

	column := req.Columns.Column(matcher.Field)
	values, err := m.store.DistinctValues(ctx, req.ImportID, column)
	if err != nil {
		return fmt.Errorf("distinct values of %s: %w", column, err)
	}
	summary.DistinctValues += len(values)

	key := IndexKeyForField(matcher.Field)
	resolved, err := m.resolver.ResolveMany(req.TenantID, def.Kind, key, values)
	if err != nil {
		return err
	}

	decisions := make([]ValueDecision, 0, len(values))
	for _, v := range values {
		res, ok := resolved[v]
		if ok && key == IndexID && !IsValidID(v) {
			ok = false
		}
		if !ok {
			if missAction != ActionNone {
				decisions = append(decisions, ValueDecision{Value: v, Action: missAction})
			}
			continue
		}
		summary.MatchedValues++
		if res.Ambiguous() {
			summary.AmbiguousKeys++
		}
		decisions = append(decisions, ValueDecision{Value: v, Action: ActionUpdate, MatchedID: res.Record.ID})
	}

	if len(decisions) == 0 {
		return nil
	}
	if _, err := m.store.ApplyDecisions(ctx, req.ImportID, column, decisions); err != nil {
		return fmt.Errorf("apply decisions: %w", err)
	}
	return nil
}

// SelectMatcher picks the attribute matcher for a pass: the named field when
// it is a mapped matcher, else the first mapped non-id matcher, else the id
// matcher when only the id is mapped.
func SelectMatcher(def EntityDefinition, columns ColumnMap, field string) (MatchableField, bool) {
	if field != "" {
		if m, ok := def.Matcher(field); ok && columns.Column(field) != "" {
			return m, true
		}
	}
	for _, m := range def.Matchers {
		if m.Field != "id" && columns.Column(m.Field) != "" {
			return m, true
		}
	}
	if m, ok := def.Matcher("id"); ok && columns.Column("id") != "" {
		return m, true
	}
	// Unmapped: keep the attribute matcher's behavior for the sweep
	for _, m := range def.Matchers {
		if m.Field != "id" {
			return MatchableField{Behavior: m.Behavior}, false
		}
	}
	return MatchableField{Behavior: CreateOrUpdate}, false
}
