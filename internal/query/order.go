package query

import (
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// DirectionForTag maps an ordering parameter name to a direction.
func DirectionForTag(tag string) (domain.Direction, bool) {
	switch strings.ToLower(tag) {
	case ParamAsc:
		return domain.Asc, true
	case ParamDes, ParamDesc:
		return domain.Desc, true
	}
	return "", false
}

// BuildOrder turns ordering directives into a sort list. Fields keep the
// position of their first appearance across all directives. Repeating a
// field in the same direction is a no-op; repeating it in the opposite
// direction, or naming a field outside allowed, is a validation failure.
func BuildOrder(raw []RawDirective, allowed FieldSet) ([]domain.OrderTerm, error) {
	var terms []domain.OrderTerm
	seen := make(map[string]domain.Direction)

	for _, d := range raw {
		dir, ok := DirectionForTag(d.Tag)
		if !ok {
			return nil, domain.ErrValidationf("unknown ordering direction %q", d.Tag)
		}
		for _, f := range strings.Split(d.Fields, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if !allowed.Has(f) {
				return nil, domain.ErrValidationf("cannot order by unknown field %q", f).
					WithMeta("field", f)
			}
			if prev, dup := seen[f]; dup {
				if prev != dir {
					return nil, domain.ErrValidationf("field %q ordered both ascending and descending", f).
						WithMeta("field", f)
				}
				continue
			}
			seen[f] = dir
			terms = append(terms, domain.OrderTerm{Field: f, Direction: dir})
		}
	}
	return terms, nil
}
