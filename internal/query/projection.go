package query

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// ParseProjection parses a comma separated field directive. A token with a
// dot selects a child field of a relation, split on the first dot; tokens
// with nothing before the dot are ignored. A blank directive yields nil,
// which means no projection.
func ParseProjection(directive string) *domain.ProjectionSpec {
	var spec *domain.ProjectionSpec
	for _, tok := range strings.Split(directive, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if spec == nil {
			spec = &domain.ProjectionSpec{
				Direct: make(map[string]bool),
				Nested: make(map[string]map[string]bool),
			}
		}
		parent, child, _ := strings.Cut(tok, ".")
		if parent == "" {
			continue
		}
		// "rel." names the relation itself.
		if child == "" {
			spec.Direct[parent] = true
			continue
		}
		if spec.Nested[parent] == nil {
			spec.Nested[parent] = make(map[string]bool)
		}
		spec.Nested[parent][child] = true
	}
	return spec
}

// Apply prunes rec to the projection. Fields keep their order in rec.
// Relations named with child fields are pruned element by element;
// relations not named at all are omitted. A nil spec returns rec unchanged.
func Apply(spec *domain.ProjectionSpec, rec *domain.Record) *domain.Record {
	if spec == nil || rec == nil {
		return rec
	}
	out := domain.NewRecord(len(spec.Direct) + len(spec.Nested))
	for _, key := range rec.Keys() {
		v, _ := rec.Get(key)
		if children, ok := spec.Nested[key]; ok {
			if pruned, keep := pruneRelation(v, children); keep {
				out.Set(key, pruned)
			}
			continue
		}
		if spec.Direct[key] {
			out.Set(key, v)
		}
	}
	return out
}

func pruneRelation(v any, children map[string]bool) (any, bool) {
	child := &domain.ProjectionSpec{Direct: children}
	switch rel := v.(type) {
	case nil:
		return nil, false
	case *domain.Record:
		if rel == nil {
			return nil, false
		}
		return Apply(child, rel), true
	case []*domain.Record:
		list := make([]*domain.Record, len(rel))
		for i, item := range rel {
			list[i] = Apply(child, item)
		}
		return list, true
	default:
		return v, true
	}
}

// AsRecord resolves a projectable value to a Record. Only *domain.Record and
// domain.Recorder implementations are accepted.
func AsRecord(v any) (*domain.Record, error) {
	switch obj := v.(type) {
	case *domain.Record:
		return obj, nil
	case domain.Recorder:
		return obj.Record(), nil
	default:
		return nil, domain.NewError(domain.KindInternal, fmt.Sprintf("cannot project value of type %T", v))
	}
}

// Project parses directive and applies it to v.
func Project(v any, directive string) (*domain.Record, error) {
	rec, err := AsRecord(v)
	if err != nil {
		return nil, err
	}
	return Apply(ParseProjection(directive), rec), nil
}

// ApplyAll projects every record of a page.
func ApplyAll(spec *domain.ProjectionSpec, recs []*domain.Record) []*domain.Record {
	if spec == nil {
		return recs
	}
	out := make([]*domain.Record, len(recs))
	for i, r := range recs {
		out[i] = Apply(spec, r)
	}
	return out
}
