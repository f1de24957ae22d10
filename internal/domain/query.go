package domain

// PaginationWindow is a validated page request: 0 <= Offset, 1 <= Limit <= Ceiling.
type PaginationWindow struct {
	Offset  int
	Limit   int
	Ceiling int
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// OrderTerm is one validated sort key.
type OrderTerm struct {
	Field     string
	Direction Direction
}

// Operator is a filter comparison.
type Operator string

const (
	OpEqual        Operator = "="
	OpLike         Operator = "LIKE"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpBetween      Operator = "BETWEEN"
)

// Predicate is one validated filter condition. Upper is only set for OpBetween.
type Predicate struct {
	Field    string
	Operator Operator
	Value    any
	Upper    any
}

// ProjectionSpec selects direct fields and, per relation, the child fields to keep.
type ProjectionSpec struct {
	Direct map[string]bool
	Nested map[string]map[string]bool
}

// Wants reports whether a top-level field or relation is selected.
func (p *ProjectionSpec) Wants(field string) bool {
	if p == nil {
		return true
	}
	if p.Direct[field] {
		return true
	}
	_, ok := p.Nested[field]
	return ok
}

// PaginationEnvelope describes the page returned relative to the full result.
type PaginationEnvelope struct {
	Offset       int  `json:"offset"`
	Limit        int  `json:"limit"`
	Total        int  `json:"total"`
	AcceptRanges int  `json:"accept_ranges"`
	Partial      bool `json:"partial"`
}

// ListQuery bundles the normalized primitives of a list request.
type ListQuery struct {
	Window     PaginationWindow
	Order      []OrderTerm
	Predicates []Predicate
	Projection *ProjectionSpec
}
