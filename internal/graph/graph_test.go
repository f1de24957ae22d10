package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/catalog"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/repository"
	"github.com/opensource-finance/notas/internal/service"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.New(nil)
	require.NoError(t, err)
	repo, err := repository.New(ctx, domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "graph.db"),
		Migrate:    true,
	}, cat, audit.New(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	svc := service.New(repo, cat, domain.QueryConfig{Ceiling: 2})
	for i, name := range []string{"Padaria Central", "Mercado Azul", "Padaria do Porto"} {
		_, err := svc.Create(ctx, catalog.Taxpayers, map[string]any{
			"cd_contribuinte":   i + 1,
			"nm_fantasia":       name,
			"cnpj_contribuinte": []string{"11111111000111", "22222222000122", "33333333000133"}[i],
		})
		require.NoError(t, err)
	}
	_, err = svc.Create(ctx, catalog.Addresses, map[string]any{
		"cd_contribuinte": 1, "logradouro": "Rua A", "municipio": "Recife", "uf": "PE",
	})
	require.NoError(t, err)

	h, err := NewHandler(svc, nil)
	require.NoError(t, err)
	return h
}

func post(t *testing.T, h http.Handler, req Request) map[string]any {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rr.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestSDL(t *testing.T) {
	cat, err := catalog.New(nil)
	require.NoError(t, err)
	sdl := SDL(cat)

	assert.Contains(t, sdl, "type ContribuintesItem {\n  cd_contribuinte: Int\n  nm_fantasia: String\n  cnpj_contribuinte: String\n  enderecos: [EnderecosItem!]\n  danfes: [DanfesItem!]\n}")
	assert.Contains(t, sdl, "valor_total: Float")
	assert.Contains(t, sdl, "data_emissao: Time")
	assert.Contains(t, sdl, "danfes(offset: Int, limit: Int, filter: Filter, order: [Order!]): DanfesPage")
	assert.Equal(t, "NotasFiscais", typeName("notas_fiscais"))
}

func TestExecuteList(t *testing.T) {
	h := newHandler(t)

	out := post(t, h, Request{Query: `{
		contribuintes(filter: {nm_fantasia: "Padaria%"}, order: [{field: "nm_fantasia", direction: DESC}]) {
			pagination { offset limit total accept_ranges partial }
			items { nome: nm_fantasia enderecos { municipio } }
		}
	}`})

	require.Nil(t, out["errors"])
	page := out["data"].(map[string]any)["contribuintes"].(map[string]any)
	assert.Equal(t, map[string]any{
		"offset": 0.0, "limit": 2.0, "total": 2.0, "accept_ranges": 2.0, "partial": false,
	}, page["pagination"])
	assert.Equal(t, []any{
		map[string]any{"nome": "Padaria do Porto", "enderecos": []any{}},
		map[string]any{"nome": "Padaria Central", "enderecos": []any{map[string]any{"municipio": "Recife"}}},
	}, page["items"])
}

func TestExecuteVariablesAndFragments(t *testing.T) {
	h := newHandler(t)

	out := post(t, h, Request{
		Query: `query Page($offset: Int, $full: Boolean!) {
			contribuintes(offset: $offset) {
				pagination { total partial }
				items { ...Names cnpj_contribuinte @include(if: $full) }
			}
		}
		fragment Names on ContribuintesItem { cd_contribuinte }`,
		Variables:     map[string]any{"offset": 1, "full": false},
		OperationName: "Page",
	})

	require.Nil(t, out["errors"])
	page := out["data"].(map[string]any)["contribuintes"].(map[string]any)
	assert.Equal(t, map[string]any{"total": 3.0, "partial": false}, page["pagination"])
	assert.Equal(t, []any{
		map[string]any{"cd_contribuinte": 2.0},
		map[string]any{"cd_contribuinte": 3.0},
	}, page["items"])
}

func TestExecuteErrors(t *testing.T) {
	h := newHandler(t)

	t.Run("domain error keeps sibling fields", func(t *testing.T) {
		out := post(t, h, Request{Query: `{
			contribuintes(filter: {senha: "x"}) { items { cd_contribuinte } }
			enderecos { pagination { total } }
		}`})

		data := out["data"].(map[string]any)
		assert.Nil(t, data["contribuintes"])
		assert.Equal(t, map[string]any{"pagination": map[string]any{"total": 1.0}}, data["enderecos"])

		errs := out["errors"].([]any)
		require.Len(t, errs, 1)
		ge := errs[0].(map[string]any)
		assert.Equal(t, []any{"contribuintes"}, ge["path"])
		ext := ge["extensions"].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", ext["code"])
		assert.NotEmpty(t, ext["title"])
		assert.NotEmpty(t, ext["description"])
	})

	t.Run("order on unknown field", func(t *testing.T) {
		out := post(t, h, Request{Query: `{ danfes(order: [{field: "senha", direction: ASC}]) { items { numero } } }`})
		ge := out["errors"].([]any)[0].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", ge["extensions"].(map[string]any)["code"])
	})

	t.Run("zero limit", func(t *testing.T) {
		out := post(t, h, Request{Query: `{ danfes(limit: 0) { items { numero } } }`})
		ge := out["errors"].([]any)[0].(map[string]any)
		assert.Equal(t, "VALIDATION_ERROR", ge["extensions"].(map[string]any)["code"])
	})

	t.Run("invalid document", func(t *testing.T) {
		out := post(t, h, Request{Query: `{ produtos { items { id } } }`})
		assert.Nil(t, out["data"])
		for _, ge := range requireErrors(t, out) {
			assertValidation(t, ge)
			assert.NotEmpty(t, ge["locations"])
		}
	})

	t.Run("mutation", func(t *testing.T) {
		out := post(t, h, Request{Query: `mutation { contribuintes { items { cd_contribuinte } } }`})
		assert.Nil(t, out["data"])
		for _, ge := range requireErrors(t, out) {
			assertValidation(t, ge)
		}
	})

	t.Run("several operations without a name", func(t *testing.T) {
		out := post(t, h, Request{Query: `
			query A { contribuintes { pagination { total } } }
			query B { enderecos { pagination { total } } }
		`})
		errs := requireErrors(t, out)
		require.Len(t, errs, 1)
		assertValidation(t, errs[0])
		assert.Contains(t, errs[0]["message"], "operationName")
	})

	t.Run("unknown operation name", func(t *testing.T) {
		out := post(t, h, Request{
			Query:         `query A { contribuintes { pagination { total } } }`,
			OperationName: "B",
		})
		errs := requireErrors(t, out)
		require.Len(t, errs, 1)
		assertValidation(t, errs[0])
	})

	t.Run("missing required variable", func(t *testing.T) {
		out := post(t, h, Request{Query: `query($n: Int!) { danfes(limit: $n) { items { numero } } }`})
		errs := requireErrors(t, out)
		require.Len(t, errs, 1)
		assertValidation(t, errs[0])
	})

	t.Run("malformed body", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewBufferString("{")))
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "VALIDATION_ERROR")
	})
}

func requireErrors(t *testing.T, out map[string]any) []map[string]any {
	t.Helper()
	raw, ok := out["errors"].([]any)
	require.True(t, ok, "expected errors array, got %v", out["errors"])
	require.NotEmpty(t, raw)
	errs := make([]map[string]any, len(raw))
	for i, e := range raw {
		errs[i] = e.(map[string]any)
	}
	return errs
}

func assertValidation(t *testing.T, ge map[string]any) {
	t.Helper()
	ext, ok := ge["extensions"].(map[string]any)
	require.True(t, ok, "expected extensions on %v", ge)
	assert.Equal(t, "VALIDATION_ERROR", ext["code"])
	assert.NotEmpty(t, ext["title"])
	assert.NotEmpty(t, ext["description"])
}

func TestScalar(t *testing.T) {
	assert.Equal(t, "10", scalar(json.Number("10")))
	assert.Equal(t, "1000000", scalar(1e6))
	assert.Equal(t, "7", scalar(int64(7)))
	assert.Equal(t, "true", scalar(true))
	assert.Equal(t, "x", scalar("x"))
}
