// Package render turns domain errors into transport representations.
package render

import (
	"errors"
	"net/http"

	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/opensource-finance/notas/internal/domain"
)

// internalDescription replaces the text of errors outside the taxonomy so
// driver messages never reach callers.
const internalDescription = "an unexpected error occurred"

// ErrorItem is one entry of a REST error body.
type ErrorItem struct {
	Code        string         `json:"code"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ErrorBody is the REST error payload.
type ErrorBody struct {
	Errors []ErrorItem `json:"errors"`
}

type mapping struct {
	status    int
	restCode  string
	graphCode string
}

var mappings = map[domain.Kind]mapping{
	domain.KindDuplicate:          {http.StatusConflict, "DUPLICATE_ENTRY", "CONFLICT"},
	domain.KindForeignKeyConflict: {http.StatusBadRequest, "FOREIGN_KEY_CONFLICT", "FOREIGN_KEY_CONFLICT"},
	domain.KindConnectionFailure:  {http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "SERVICE_UNAVAILABLE"},
	domain.KindValidationFailure:  {http.StatusBadRequest, "VALIDATION_ERROR", "VALIDATION_ERROR"},
	domain.KindNotFound:           {http.StatusNotFound, "NOT_FOUND", "NOT_FOUND"},
	domain.KindInternal:           {http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "INTERNAL_SERVER_ERROR"},
}

// Normalize returns err as a domain error. Errors outside the taxonomy
// become Internal with a generic description and the original as cause.
func Normalize(err error) *domain.Error {
	if de, ok := domain.AsError(err); ok {
		out := *de
		if out.Title == "" {
			out.Title = out.Kind.Title()
		}
		if out.Description == "" {
			out.Description = out.Title
		}
		return &out
	}
	return domain.NewError(domain.KindInternal, internalDescription).WithCause(err)
}

func lookup(k domain.Kind) mapping {
	if m, ok := mappings[k]; ok {
		return m
	}
	return mappings[domain.KindInternal]
}

// Status is the HTTP status for err.
func Status(err error) int {
	return lookup(domain.KindOf(err)).status
}

// REST renders err as an HTTP status and structured body.
func REST(err error) (int, ErrorBody) {
	de := Normalize(err)
	m := lookup(de.Kind)
	return m.status, ErrorBody{Errors: []ErrorItem{{
		Code:        m.restCode,
		Title:       de.Title,
		Description: de.Description,
		Metadata:    de.Metadata,
	}}}
}

// Graph renders err as a single graph error. Domain errors are rendered
// from their kind even when they wrap a graph error; any other error that
// already is a *gqlerror.Error is returned unchanged.
func Graph(err error) *gqlerror.Error {
	if _, ok := domain.AsError(err); !ok {
		var ge *gqlerror.Error
		if errors.As(err, &ge) {
			return ge
		}
	}

	de := Normalize(err)
	ext := map[string]any{
		"code":        lookup(de.Kind).graphCode,
		"title":       de.Title,
		"description": de.Description,
	}
	if len(de.Metadata) > 0 {
		ext["metadata"] = de.Metadata
	}
	return &gqlerror.Error{
		Message:    de.Description,
		Extensions: ext,
	}
}

// Invalid marks errors reported while parsing or validating a graph
// document as validation failures. Locations, path and any extension
// already present are kept.
func Invalid(errs gqlerror.List) gqlerror.List {
	title := domain.KindValidationFailure.Title()
	for _, ge := range errs {
		if ge == nil {
			continue
		}
		if ge.Extensions == nil {
			ge.Extensions = make(map[string]any, 3)
		}
		fill(ge.Extensions, "code", mappings[domain.KindValidationFailure].graphCode)
		fill(ge.Extensions, "title", title)
		fill(ge.Extensions, "description", ge.Message)
	}
	return errs
}

func fill(ext map[string]any, key string, value any) {
	if ext[key] == nil {
		ext[key] = value
	}
}
