package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/notas/internal/domain"
)

type fakeTaxpayer struct {
	ID   int64
	Name string
}

func (f fakeTaxpayer) Record() *domain.Record {
	return domain.NewRecord(2).Set("cd_contribuinte", f.ID).Set("nm_fantasia", f.Name)
}

func sampleTaxpayer() *domain.Record {
	addr := func(street, city string) *domain.Record {
		return domain.NewRecord(3).Set("logradouro", street).Set("municipio", city).Set("uf", "PE")
	}
	return domain.NewRecord(5).
		Set("cd_contribuinte", int64(1)).
		Set("nm_fantasia", "Acme").
		Set("cnpj_contribuinte", "12345678000199").
		Set("enderecos", []*domain.Record{addr("Rua A", "Recife"), addr("Rua B", "Olinda")}).
		Set("danfes", []*domain.Record{})
}

func TestParseProjection(t *testing.T) {
	t.Run("blank directive", func(t *testing.T) {
		assert.Nil(t, ParseProjection(""))
		assert.Nil(t, ParseProjection(" , ,"))
	})

	t.Run("direct and nested", func(t *testing.T) {
		spec := ParseProjection("nm_fantasia, enderecos.municipio,enderecos.uf")
		require.NotNil(t, spec)
		assert.Equal(t, map[string]bool{"nm_fantasia": true}, spec.Direct)
		assert.Equal(t, map[string]map[string]bool{
			"enderecos": {"municipio": true, "uf": true},
		}, spec.Nested)
	})

	t.Run("splits on first dot", func(t *testing.T) {
		spec := ParseProjection("a.b.c")
		assert.Equal(t, map[string]bool{"b.c": true}, spec.Nested["a"])
	})

	t.Run("empty child selects the relation", func(t *testing.T) {
		spec := ParseProjection("enderecos., .uf")
		require.NotNil(t, spec)
		assert.Equal(t, map[string]bool{"enderecos": true}, spec.Direct)
		assert.Empty(t, spec.Nested)

		out := Apply(spec, sampleTaxpayer())
		assert.Equal(t, []string{"enderecos"}, out.Keys())
		rel, _ := out.Get("enderecos")
		require.Len(t, rel, 2)
		assert.Equal(t, []string{"logradouro", "municipio", "uf"}, rel.([]*domain.Record)[0].Keys())
	})
}

func TestApplyProjection(t *testing.T) {
	t.Run("no directive returns object unchanged", func(t *testing.T) {
		rec := sampleTaxpayer()
		assert.Same(t, rec, Apply(nil, rec))
	})

	t.Run("keeps source order and prunes relations", func(t *testing.T) {
		out, err := Project(sampleTaxpayer(), "enderecos.municipio,nm_fantasia")
		require.NoError(t, err)

		assert.Equal(t, []string{"nm_fantasia", "enderecos"}, out.Keys())
		raw, err := json.Marshal(out)
		require.NoError(t, err)
		assert.JSONEq(t, `{"nm_fantasia":"Acme","enderecos":[{"municipio":"Recife"},{"municipio":"Olinda"}]}`, string(raw))
		assert.Equal(t, `{"nm_fantasia":"Acme","enderecos":[{"municipio":"Recife"},{"municipio":"Olinda"}]}`, string(raw))
	})

	t.Run("unmentioned relations omitted", func(t *testing.T) {
		out, err := Project(sampleTaxpayer(), "cd_contribuinte")
		require.NoError(t, err)
		assert.False(t, out.Has("enderecos"))
		assert.False(t, out.Has("danfes"))
	})

	t.Run("direct relation token keeps whole relation", func(t *testing.T) {
		out, err := Project(sampleTaxpayer(), "enderecos")
		require.NoError(t, err)
		v, ok := out.Get("enderecos")
		require.True(t, ok)
		list := v.([]*domain.Record)
		require.Len(t, list, 2)
		assert.Equal(t, 3, list[0].Len())
	})

	t.Run("single related object", func(t *testing.T) {
		rec := domain.NewRecord(2).
			Set("id_danfe", "d1").
			Set("contribuinte", domain.NewRecord(2).Set("cd_contribuinte", int64(1)).Set("nm_fantasia", "Acme"))
		out, err := Project(rec, "contribuinte.nm_fantasia")
		require.NoError(t, err)
		v, _ := out.Get("contribuinte")
		assert.Equal(t, []string{"nm_fantasia"}, v.(*domain.Record).Keys())
	})

	t.Run("nil relation omitted", func(t *testing.T) {
		rec := domain.NewRecord(2).Set("id", 1).Set("parent", nil)
		out, err := Project(rec, "id,parent.name")
		require.NoError(t, err)
		assert.Equal(t, []string{"id"}, out.Keys())
	})

	t.Run("typed recorder", func(t *testing.T) {
		out, err := Project(fakeTaxpayer{ID: 9, Name: "Beta"}, "nm_fantasia")
		require.NoError(t, err)
		v, _ := out.Get("nm_fantasia")
		assert.Equal(t, "Beta", v)
	})

	t.Run("unsupported shape", func(t *testing.T) {
		_, err := Project(map[string]any{"a": 1}, "a")
		require.Error(t, err)
		assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	})
}
