package query

import (
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/notas/internal/domain"
)

// Wildcard marks a filter value that is already a LIKE pattern.
const Wildcard = "%"

// Range bound suffixes, e.g. valor_total_min / valor_total_max.
const (
	SuffixMin = "_min"
	SuffixMax = "_max"
)

// FilterRules describes the fields a request may filter and order on.
type FilterRules struct {
	Fields   map[string]domain.FieldInfo
	Reserved FieldSet
}

// NewFilterRules indexes field descriptions by path.
func NewFilterRules(fields []domain.FieldInfo) FilterRules {
	r := FilterRules{Fields: make(map[string]domain.FieldInfo, len(fields)), Reserved: Reserved}
	for _, f := range fields {
		r.Fields[f.Path] = f
	}
	return r
}

// Allowed returns every filterable path.
func (r FilterRules) Allowed() FieldSet {
	s := make(FieldSet, len(r.Fields))
	for p := range r.Fields {
		s[p] = struct{}{}
	}
	return s
}

// Orderable returns the entity's own columns; relation paths cannot be sorted on.
func (r FilterRules) Orderable() FieldSet {
	s := make(FieldSet, len(r.Fields))
	for p, f := range r.Fields {
		if f.Relation == "" {
			s[p] = struct{}{}
		}
	}
	return s
}

type filterEntry struct {
	field string
	value string
	lower *string
	upper *string
	ranged bool
}

// ValidateFilters converts filter candidates into predicates. All unknown
// keys and unparseable values are reported together in one validation
// failure. A key repeated in the request keeps its first position and its
// last value. Output follows the order in which fields first appear.
func ValidateFilters(raw []Param, rules FilterRules) ([]domain.Predicate, error) {
	var (
		entries []*filterEntry
		byField = make(map[string]*filterEntry)
		invalid []string
	)

	entry := func(field string) *filterEntry {
		if e, ok := byField[field]; ok {
			return e
		}
		e := &filterEntry{field: field}
		byField[field] = e
		entries = append(entries, e)
		return e
	}

	for _, p := range raw {
		if rules.Reserved.Has(p.Key) {
			continue
		}
		if _, ok := rules.Fields[p.Key]; ok {
			e := entry(p.Key)
			e.value = p.Value
			e.ranged = false
			continue
		}
		if base, bound, ok := rangeKey(p.Key, rules); ok {
			e := entry(base)
			e.ranged = true
			v := p.Value
			if bound == SuffixMin {
				e.lower = &v
			} else {
				e.upper = &v
			}
			continue
		}
		if !slices.Contains(invalid, p.Key) {
			invalid = append(invalid, p.Key)
		}
	}

	preds := make([]domain.Predicate, 0, len(entries))
	badValues := make(map[string]string)
	for _, e := range entries {
		info := rules.Fields[e.field]
		pred, err := buildPredicate(info, e)
		if err != nil {
			badValues[e.field] = describe(err)
			continue
		}
		preds = append(preds, pred)
	}

	if len(invalid) > 0 || len(badValues) > 0 {
		slices.Sort(invalid)
		de := domain.ErrValidationf("%s", filterFailure(invalid, badValues))
		if len(invalid) > 0 {
			de = de.WithMeta("invalid_fields", invalid)
		}
		if len(badValues) > 0 {
			de = de.WithMeta("invalid_values", badValues)
		}
		return nil, de
	}
	return preds, nil
}

func filterFailure(invalid []string, badValues map[string]string) string {
	var parts []string
	if len(invalid) > 0 {
		parts = append(parts, "invalid filter fields: "+strings.Join(invalid, ", "))
	}
	if len(badValues) > 0 {
		fields := make([]string, 0, len(badValues))
		for f := range badValues {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		parts = append(parts, "invalid filter values: "+strings.Join(fields, ", "))
	}
	return strings.Join(parts, "; ")
}

func describe(err error) string {
	if de, ok := domain.AsError(err); ok {
		return de.Description
	}
	return err.Error()
}

// rangeKey recognizes <field>_min and <field>_max on range fields.
func rangeKey(key string, rules FilterRules) (string, string, bool) {
	for _, suffix := range []string{SuffixMin, SuffixMax} {
		base, ok := strings.CutSuffix(key, suffix)
		if !ok {
			continue
		}
		if f, ok := rules.Fields[base]; ok && f.Range {
			return base, suffix, true
		}
	}
	return "", "", false
}

func buildPredicate(info domain.FieldInfo, e *filterEntry) (domain.Predicate, error) {
	if e.ranged {
		return rangePredicate(info, e)
	}

	if info.Type == domain.TypeString {
		switch {
		case strings.Contains(e.value, Wildcard):
			return domain.Predicate{Field: info.Path, Operator: domain.OpLike, Value: e.value}, nil
		case info.Text:
			return domain.Predicate{Field: info.Path, Operator: domain.OpLike, Value: Wildcard + e.value + Wildcard}, nil
		}
	}

	v, err := Coerce(info.Type, e.value)
	if err != nil {
		return domain.Predicate{}, err
	}
	return domain.Predicate{Field: info.Path, Operator: domain.OpEqual, Value: v}, nil
}

func rangePredicate(info domain.FieldInfo, e *filterEntry) (domain.Predicate, error) {
	var lo, hi any
	var err error
	if e.lower != nil {
		if lo, err = Coerce(info.Type, *e.lower); err != nil {
			return domain.Predicate{}, err
		}
	}
	if e.upper != nil {
		if hi, err = Coerce(info.Type, *e.upper); err != nil {
			return domain.Predicate{}, err
		}
	}
	switch {
	case e.lower != nil && e.upper != nil:
		return domain.Predicate{Field: info.Path, Operator: domain.OpBetween, Value: lo, Upper: hi}, nil
	case e.lower != nil:
		return domain.Predicate{Field: info.Path, Operator: domain.OpGreaterEqual, Value: lo}, nil
	default:
		return domain.Predicate{Field: info.Path, Operator: domain.OpLessEqual, Value: hi}, nil
	}
}

// Timestamp layouts accepted for timestamp columns.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// Coerce converts a raw string to the Go value stored in a column of type t.
func Coerce(t domain.ColumnType, raw string) (any, error) {
	if t != domain.TypeString {
		raw = strings.TrimSpace(raw)
	}
	switch t {
	case domain.TypeInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, domain.ErrValidationf("expected integer, got %q", raw)
		}
		return n, nil
	case domain.TypeDecimal:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, domain.ErrValidationf("expected decimal, got %q", raw)
		}
		return f, nil
	case domain.TypeTimestamp:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, raw); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, domain.ErrValidationf("expected timestamp (RFC 3339 or YYYY-MM-DD), got %q", raw)
	default:
		return raw, nil
	}
}
