package query

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/opensource-finance/notas/internal/domain"
)

// Response headers describing a page.
const (
	HeaderAcceptRanges = "Accept-Ranges"
	HeaderContentRange = "Content-Range"
)

// BuildEnvelope describes window relative to a total row count.
func BuildEnvelope(w domain.PaginationWindow, total int) domain.PaginationEnvelope {
	return domain.PaginationEnvelope{
		Offset:       w.Offset,
		Limit:        w.Limit,
		Total:        total,
		AcceptRanges: w.Ceiling,
		Partial:      w.Offset < total && w.Limit < total-w.Offset,
	}
}

// ContentRange renders "items start-end/total". An empty result is
// "items 0-0/0" and an offset past the last row is "items */total".
func ContentRange(e domain.PaginationEnvelope) string {
	if e.Total <= 0 {
		return "items 0-0/0"
	}
	if e.Offset >= e.Total {
		return fmt.Sprintf("items */%d", e.Total)
	}
	end := e.Total - 1
	if e.Limit < e.Total-e.Offset {
		end = e.Offset + e.Limit - 1
	}
	return fmt.Sprintf("items %d-%d/%d", e.Offset, end, e.Total)
}

// SetHeaders writes the pagination headers.
func SetHeaders(h http.Header, e domain.PaginationEnvelope) {
	h.Set(HeaderAcceptRanges, strconv.Itoa(e.AcceptRanges))
	h.Set(HeaderContentRange, ContentRange(e))
}

// Status is 206 for a partial page and 200 otherwise.
func Status(e domain.PaginationEnvelope) int {
	if e.Partial {
		return http.StatusPartialContent
	}
	return http.StatusOK
}
