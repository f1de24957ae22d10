// Package query normalizes raw request parameters into validated pagination,
// ordering, filter and projection primitives.
package query

import (
	"net/url"
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// Reserved control parameter names.
const (
	ParamOffset = "offset"
	ParamLimit  = "limit"
	ParamFields = "fields"
	ParamAsc    = "asc"
	ParamDes    = "des"
	ParamDesc   = "desc"
)

// Reserved is the set of control keys never treated as filters.
var Reserved = NewFieldSet(ParamOffset, ParamLimit, ParamFields, ParamAsc, ParamDes, ParamDesc)

// Param is one raw key/value pair in submission order.
type Param struct {
	Key   string
	Value string
}

// RawDirective is one ordering parameter as submitted, e.g. ("des", "numero,valor_total").
type RawDirective struct {
	Tag    string
	Fields string
}

// Params is the classified form of a request's parameters.
type Params struct {
	Offset    string
	Limit     string
	Fields    string
	HasFields bool
	Order     []RawDirective
	Filters   []Param
}

// ParseRawQuery splits a URL query string into pairs, keeping submission
// order and repeated keys.
func ParseRawQuery(raw string) ([]Param, error) {
	var out []Param
	var bad []string
	for _, part := range strings.Split(raw, "&") {
		if part == "" {
			continue
		}
		k, v, _ := strings.Cut(part, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			bad = append(bad, k)
			continue
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			bad = append(bad, k)
			continue
		}
		out = append(out, Param{Key: key, Value: val})
	}
	if len(bad) > 0 {
		return nil, domain.ErrValidationf("malformed query parameters: %s", strings.Join(bad, ", ")).
			WithMeta("invalid_fields", bad)
	}
	return out, nil
}

// Classify separates control parameters from filter candidates. Repeated
// offset, limit and fields keep the last value; ordering directives and
// filters keep every occurrence in order.
func Classify(params []Param) Params {
	var p Params
	for _, kv := range params {
		switch kv.Key {
		case ParamOffset:
			p.Offset = kv.Value
		case ParamLimit:
			p.Limit = kv.Value
		case ParamFields:
			p.Fields = kv.Value
			p.HasFields = true
		case ParamAsc, ParamDes, ParamDesc:
			p.Order = append(p.Order, RawDirective{Tag: kv.Key, Fields: kv.Value})
		default:
			p.Filters = append(p.Filters, kv)
		}
	}
	return p
}

// FieldSet is a set of field names or paths.
type FieldSet map[string]struct{}

// NewFieldSet builds a set from names.
func NewFieldSet(names ...string) FieldSet {
	s := make(FieldSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s FieldSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}
