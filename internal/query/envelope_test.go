package query

import (
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/notas/internal/domain"
)

func TestBuildEnvelope(t *testing.T) {
	tests := []struct {
		name         string
		window       domain.PaginationWindow
		total        int
		partial      bool
		contentRange string
		status       int
	}{
		{"empty", domain.PaginationWindow{Offset: 0, Limit: 50, Ceiling: 50}, 0, false, "items 0-0/0", http.StatusOK},
		{"partial first page", domain.PaginationWindow{Offset: 0, Limit: 10, Ceiling: 50}, 35, true, "items 0-9/35", http.StatusPartialContent},
		{"last page", domain.PaginationWindow{Offset: 30, Limit: 10, Ceiling: 50}, 35, false, "items 30-34/35", http.StatusOK},
		{"exact fit", domain.PaginationWindow{Offset: 0, Limit: 35, Ceiling: 50}, 35, false, "items 0-34/35", http.StatusOK},
		{"offset past end", domain.PaginationWindow{Offset: 40, Limit: 10, Ceiling: 50}, 35, false, "items */35", http.StatusOK},
		{"offset at end", domain.PaginationWindow{Offset: 35, Limit: 10, Ceiling: 50}, 35, false, "items */35", http.StatusOK},
		{"max offset", domain.PaginationWindow{Offset: math.MaxInt, Limit: 50, Ceiling: 100}, 10, false, "items */10", http.StatusOK},
		{"large total", domain.PaginationWindow{Offset: math.MaxInt - 5, Limit: 10, Ceiling: 10}, math.MaxInt, false, fmt.Sprintf("items %d-%d/%d", math.MaxInt-5, math.MaxInt-1, math.MaxInt), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := BuildEnvelope(tt.window, tt.total)
			assert.Equal(t, tt.partial, env.Partial)
			assert.Equal(t, tt.contentRange, ContentRange(env))
			assert.Equal(t, tt.status, Status(env))
			assert.Equal(t, tt.window.Ceiling, env.AcceptRanges)
		})
	}
}

func TestBuildEnvelopeFromParsedMaxOffset(t *testing.T) {
	w, err := ParsePagination("9223372036854775807", "50", 100)
	require.NoError(t, err)

	env := BuildEnvelope(w, 10)
	assert.False(t, env.Partial)
	assert.Equal(t, http.StatusOK, Status(env))
	assert.Equal(t, "items */10", ContentRange(env))
}

func TestSetHeaders(t *testing.T) {
	h := http.Header{}
	SetHeaders(h, BuildEnvelope(domain.PaginationWindow{Offset: 10, Limit: 10, Ceiling: 200}, 100))
	assert.Equal(t, "200", h.Get(HeaderAcceptRanges))
	assert.Equal(t, "items 10-19/100", h.Get(HeaderContentRange))
}
