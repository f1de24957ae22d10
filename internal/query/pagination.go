package query

import (
	"strconv"
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// NormalizePagination bounds an optional offset and limit by ceiling.
// An absent offset is 0 and an absent limit is the ceiling; a limit above
// the ceiling is clamped, never rejected.
func NormalizePagination(offset, limit *int, ceiling int) (domain.PaginationWindow, error) {
	if ceiling < 1 {
		return domain.PaginationWindow{}, domain.NewError(domain.KindInternal, "pagination ceiling must be positive")
	}
	if offset != nil && *offset < 0 {
		return domain.PaginationWindow{}, domain.ErrValidationf("offset must be >= 0, got %d", *offset).
			WithMeta("field", ParamOffset)
	}
	if limit != nil && *limit < 1 {
		return domain.PaginationWindow{}, domain.ErrValidationf("limit must be >= 1, got %d", *limit).
			WithMeta("field", ParamLimit)
	}

	w := domain.PaginationWindow{Limit: ceiling, Ceiling: ceiling}
	if offset != nil {
		w.Offset = *offset
	}
	if limit != nil {
		w.Limit = min(*limit, ceiling)
	}
	return w, nil
}

// ParsePagination is NormalizePagination over raw strings; empty means absent.
func ParsePagination(offsetRaw, limitRaw string, ceiling int) (domain.PaginationWindow, error) {
	offset, err := optionalInt(ParamOffset, offsetRaw)
	if err != nil {
		return domain.PaginationWindow{}, err
	}
	limit, err := optionalInt(ParamLimit, limitRaw)
	if err != nil {
		return domain.PaginationWindow{}, err
	}
	return NormalizePagination(offset, limit, ceiling)
}

func optionalInt(name, raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, domain.ErrValidationf("%s must be an integer, got %q", name, raw).WithMeta("field", name)
	}
	return &n, nil
}
