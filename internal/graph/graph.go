// Package graph serves the catalog as a GraphQL endpoint. Root fields map
// onto the same list pipeline as REST; the selection under items becomes
// the projection.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/validator"

	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
	"github.com/opensource-finance/notas/internal/render"
	"github.com/opensource-finance/notas/internal/service"
)

const maxBodyBytes = 1 << 20

// Request is a GraphQL POST body.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// Response is a GraphQL result. Data is absent when the document never
// reached execution.
type Response struct {
	Data   *domain.Record `json:"data,omitempty"`
	Errors gqlerror.List  `json:"errors,omitempty"`
}

// Handler executes queries against the service.
type Handler struct {
	svc    *service.Service
	schema *ast.Schema
	logger *slog.Logger
}

// NewHandler builds the schema from the service catalog.
func NewHandler(svc *service.Service, logger *slog.Logger) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "notas.graphql", Input: SDL(svc.Catalog())})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph schema: %w", err)
	}
	return &Handler{svc: svc, schema: schema, logger: logger}, nil
}

// ServeHTTP handles POST /graphql. Results and errors are always 200.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var req Request
	var resp Response
	if err := dec.Decode(&req); err != nil {
		resp.Errors = gqlerror.List{render.Graph(domain.ErrValidationf("invalid JSON request body"))}
	} else {
		resp = h.Execute(r.Context(), req)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// Execute parses, validates and runs one operation.
func (h *Handler) Execute(ctx context.Context, req Request) Response {
	doc, errs := gqlparser.LoadQuery(h.schema, req.Query)
	if len(errs) > 0 {
		return Response{Errors: render.Invalid(errs)}
	}

	op := doc.Operations.ForName(req.OperationName)
	if op == nil {
		if req.OperationName == "" {
			return failed(domain.ErrValidationf("operationName is required when the document has several operations"))
		}
		return failed(domain.ErrValidationf("operation %q not found", req.OperationName).
			WithMeta("operationName", req.OperationName))
	}
	if op.Operation != ast.Query {
		return failed(domain.ErrValidationf("only query operations are supported, got %s", op.Operation))
	}

	vars, err := validator.VariableValues(h.schema, op, req.Variables)
	if err != nil {
		var ge *gqlerror.Error
		if errors.As(err, &ge) {
			return Response{Errors: render.Invalid(gqlerror.List{ge})}
		}
		return failed(domain.ErrValidationf("invalid variables: %v", err))
	}

	ex := &execution{svc: h.svc, vars: vars, logger: h.logger}
	data := domain.NewRecord(len(op.SelectionSet))
	for _, f := range ex.fields(op.SelectionSet) {
		if f.Name == "__typename" {
			data.Set(f.Alias, "Query")
			continue
		}
		page, err := ex.root(ctx, f)
		if err != nil {
			ge := render.Graph(err)
			ge.Path = ast.Path{ast.PathName(f.Alias)}
			ex.errors = append(ex.errors, ge)
			data.Set(f.Alias, nil)
			continue
		}
		data.Set(f.Alias, page)
	}
	return Response{Data: data, Errors: ex.errors}
}

func failed(err error) Response {
	return Response{Errors: gqlerror.List{render.Graph(err)}}
}

type execution struct {
	svc    *service.Service
	vars   map[string]any
	logger *slog.Logger
	errors gqlerror.List
}

// root runs one entity list field.
func (ex *execution) root(ctx context.Context, f *ast.Field) (*domain.Record, error) {
	entity := f.Name
	schema, ok := ex.svc.Catalog().Entity(entity)
	if !ok {
		return nil, domain.ErrNotFoundf("unknown entity %q", entity)
	}

	params, err := ex.params(f.ArgumentMap(ex.vars))
	if err != nil {
		return nil, err
	}

	var items *ast.Field
	for _, sel := range ex.fields(f.SelectionSet) {
		if sel.Name == "items" {
			items = sel
			break
		}
	}
	params.HasFields = true
	params.Fields = schema.Key
	if items != nil {
		params.Fields = ex.directive(schema, items)
	}

	q, err := ex.svc.Prepare(entity, params)
	if err != nil {
		return nil, err
	}
	res, err := ex.svc.List(ctx, entity, q)
	if err != nil {
		ex.logger.Debug("graph list failed", "entity", entity, "error", err)
		return nil, err
	}

	page := domain.NewRecord(2)
	for _, sel := range ex.fields(f.SelectionSet) {
		switch sel.Name {
		case "__typename":
			page.Set(sel.Alias, pageType(entity))
		case "pagination":
			page.Set(sel.Alias, ex.pagination(sel, res.Envelope))
		case "items":
			list := make([]*domain.Record, len(res.Items))
			for i, rec := range res.Items {
				list[i] = ex.item(sel, entity, rec)
			}
			page.Set(sel.Alias, list)
		}
	}
	return page, nil
}

// params turns field arguments into the classified form REST produces.
// Filter keys are taken in sorted order.
func (ex *execution) params(args map[string]any) (query.Params, error) {
	var p query.Params
	if v, ok := args["offset"]; ok && v != nil {
		p.Offset = scalar(v)
	}
	if v, ok := args["limit"]; ok && v != nil {
		p.Limit = scalar(v)
	}

	if raw, ok := args["filter"]; ok && raw != nil {
		filter, ok := raw.(map[string]any)
		if !ok {
			return query.Params{}, domain.ErrValidationf("filter must be an object")
		}
		keys := make([]string, 0, len(filter))
		for k := range filter {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p.Filters = append(p.Filters, query.Param{Key: k, Value: scalar(filter[k])})
		}
	}

	if raw, ok := args["order"]; ok && raw != nil {
		list, _ := raw.([]any)
		for _, item := range list {
			o, _ := item.(map[string]any)
			field, _ := o["field"].(string)
			tag := query.ParamAsc
			if dir, _ := o["direction"].(string); dir == string(domain.Desc) {
				tag = query.ParamDes
			}
			p.Order = append(p.Order, query.RawDirective{Tag: tag, Fields: field})
		}
	}
	return p, nil
}

// directive renders the items selection as a fields directive.
func (ex *execution) directive(schema *domain.EntitySchema, items *ast.Field) string {
	var tokens []string
	for _, sel := range ex.fields(items.SelectionSet) {
		if sel.Name == "__typename" {
			continue
		}
		if _, ok := schema.Relation(sel.Name); !ok {
			tokens = append(tokens, sel.Name)
			continue
		}
		children := 0
		for _, child := range ex.fields(sel.SelectionSet) {
			if child.Name == "__typename" {
				continue
			}
			tokens = append(tokens, sel.Name+"."+child.Name)
			children++
		}
		if children == 0 {
			tokens = append(tokens, sel.Name)
		}
	}
	if len(tokens) == 0 {
		return schema.Key
	}
	return strings.Join(tokens, ",")
}

func (ex *execution) pagination(f *ast.Field, e domain.PaginationEnvelope) *domain.Record {
	out := domain.NewRecord(5)
	for _, sel := range ex.fields(f.SelectionSet) {
		switch sel.Name {
		case "__typename":
			out.Set(sel.Alias, "Pagination")
		case "offset":
			out.Set(sel.Alias, e.Offset)
		case "limit":
			out.Set(sel.Alias, e.Limit)
		case "total":
			out.Set(sel.Alias, e.Total)
		case "accept_ranges":
			out.Set(sel.Alias, e.AcceptRanges)
		case "partial":
			out.Set(sel.Alias, e.Partial)
		}
	}
	return out
}

// item shapes a projected record to the selection, honoring aliases.
func (ex *execution) item(f *ast.Field, entity string, rec *domain.Record) *domain.Record {
	fields := ex.fields(f.SelectionSet)
	out := domain.NewRecord(len(fields))
	for _, sel := range fields {
		if sel.Name == "__typename" {
			out.Set(sel.Alias, itemType(entity))
			continue
		}
		v, _ := rec.Get(sel.Name)
		children, ok := v.([]*domain.Record)
		if !ok || len(sel.SelectionSet) == 0 {
			out.Set(sel.Alias, v)
			continue
		}
		target := entity
		if s, found := ex.svc.Catalog().Entity(entity); found {
			if r, found := s.Relation(sel.Name); found {
				target = r.Entity
			}
		}
		list := make([]*domain.Record, len(children))
		for i, child := range children {
			list[i] = ex.item(sel, target, child)
		}
		out.Set(sel.Alias, list)
	}
	return out
}

// fields flattens fragments and drops selections excluded by @skip or @include.
func (ex *execution) fields(set ast.SelectionSet) []*ast.Field {
	var out []*ast.Field
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if ex.included(s.Directives) {
				out = append(out, s)
			}
		case *ast.InlineFragment:
			if ex.included(s.Directives) {
				out = append(out, ex.fields(s.SelectionSet)...)
			}
		case *ast.FragmentSpread:
			if ex.included(s.Directives) && s.Definition != nil {
				out = append(out, ex.fields(s.Definition.SelectionSet)...)
			}
		}
	}
	return out
}

func (ex *execution) included(dirs ast.DirectiveList) bool {
	if d := dirs.ForName("skip"); d != nil {
		if skip, _ := d.ArgumentMap(ex.vars)["if"].(bool); skip {
			return false
		}
	}
	if d := dirs.ForName("include"); d != nil {
		if include, _ := d.ArgumentMap(ex.vars)["if"].(bool); !include {
			return false
		}
	}
	return true
}

// scalar renders an argument value as the raw string a query parameter
// would carry.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
