package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/notas/internal/domain"
)

func testRules() FilterRules {
	return NewFilterRules([]domain.FieldInfo{
		{Path: "cd_contribuinte", Type: domain.TypeInteger, Column: "cd_contribuinte"},
		{Path: "nm_fantasia", Type: domain.TypeString, Text: true, Column: "nm_fantasia"},
		{Path: "cnpj_contribuinte", Type: domain.TypeString, Column: "cnpj_contribuinte"},
		{Path: "valor_total", Type: domain.TypeDecimal, Range: true, Column: "valor_total"},
		{Path: "data_emissao", Type: domain.TypeTimestamp, Range: true, Column: "data_emissao"},
		{Path: "enderecos.municipio", Type: domain.TypeString, Text: true, Relation: "enderecos", Column: "municipio"},
	})
}

func TestValidateFilters(t *testing.T) {
	rules := testRules()

	t.Run("text field becomes contains pattern", func(t *testing.T) {
		got, err := ValidateFilters([]Param{{Key: "nm_fantasia", Value: "acme"}}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "nm_fantasia", Operator: domain.OpLike, Value: "%acme%"},
		}, got)
	})

	t.Run("wildcard value passes through", func(t *testing.T) {
		got, err := ValidateFilters([]Param{{Key: "cnpj_contribuinte", Value: "123%"}}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "cnpj_contribuinte", Operator: domain.OpLike, Value: "123%"},
		}, got)
	})

	t.Run("non text field is equality", func(t *testing.T) {
		got, err := ValidateFilters([]Param{
			{Key: "cnpj_contribuinte", Value: "12345678000199"},
			{Key: "cd_contribuinte", Value: "7"},
		}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "cnpj_contribuinte", Operator: domain.OpEqual, Value: "12345678000199"},
			{Field: "cd_contribuinte", Operator: domain.OpEqual, Value: int64(7)},
		}, got)
	})

	t.Run("relation path", func(t *testing.T) {
		got, err := ValidateFilters([]Param{{Key: "enderecos.municipio", Value: "Recife"}}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "enderecos.municipio", Operator: domain.OpLike, Value: "%Recife%"},
		}, got)
	})

	t.Run("range pair is inclusive between", func(t *testing.T) {
		got, err := ValidateFilters([]Param{
			{Key: "valor_total_max", Value: "100.5"},
			{Key: "valor_total_min", Value: "10"},
		}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "valor_total", Operator: domain.OpBetween, Value: 10.0, Upper: 100.5},
		}, got)
	})

	t.Run("single bounds are one sided", func(t *testing.T) {
		got, err := ValidateFilters([]Param{
			{Key: "data_emissao_min", Value: "2024-01-01"},
			{Key: "valor_total_max", Value: "99"},
		}, rules)
		require.NoError(t, err)
		assert.Equal(t, []domain.Predicate{
			{Field: "data_emissao", Operator: domain.OpGreaterEqual, Value: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			{Field: "valor_total", Operator: domain.OpLessEqual, Value: 99.0},
		}, got)
	})

	t.Run("invalid keys rejected together", func(t *testing.T) {
		_, err := ValidateFilters([]Param{
			{Key: "zeta", Value: "1"},
			{Key: "nm_fantasia", Value: "x"},
			{Key: "alpha", Value: "2"},
			{Key: "cnpj_contribuinte_min", Value: "3"},
		}, rules)
		require.Error(t, err)
		de, ok := domain.AsError(err)
		require.True(t, ok)
		assert.Equal(t, domain.KindValidationFailure, de.Kind)
		assert.Equal(t, []string{"alpha", "cnpj_contribuinte_min", "zeta"}, de.Metadata["invalid_fields"])
		assert.Contains(t, de.Description, "alpha, cnpj_contribuinte_min, zeta")
	})

	t.Run("bad values reported with unknown keys", func(t *testing.T) {
		_, err := ValidateFilters([]Param{
			{Key: "cd_contribuinte", Value: "seven"},
			{Key: "nope", Value: "1"},
		}, rules)
		require.Error(t, err)
		de, _ := domain.AsError(err)
		assert.Equal(t, []string{"nope"}, de.Metadata["invalid_fields"])
		assert.Contains(t, de.Metadata["invalid_values"], "cd_contribuinte")
	})

	t.Run("reserved keys skipped", func(t *testing.T) {
		got, err := ValidateFilters([]Param{
			{Key: "offset", Value: "1"},
			{Key: "asc", Value: "nm_fantasia"},
		}, rules)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("repeated key keeps first position and last value", func(t *testing.T) {
		got, err := ValidateFilters([]Param{
			{Key: "cd_contribuinte", Value: "1"},
			{Key: "nm_fantasia", Value: "a"},
			{Key: "cd_contribuinte", Value: "2"},
		}, rules)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "cd_contribuinte", got[0].Field)
		assert.Equal(t, int64(2), got[0].Value)
	})

	t.Run("deterministic order", func(t *testing.T) {
		params := []Param{
			{Key: "valor_total_min", Value: "1"},
			{Key: "nm_fantasia", Value: "x"},
			{Key: "cnpj_contribuinte", Value: "y"},
			{Key: "cd_contribuinte", Value: "3"},
		}
		first, err := ValidateFilters(params, rules)
		require.NoError(t, err)
		for range 20 {
			again, err := ValidateFilters(params, rules)
			require.NoError(t, err)
			assert.Equal(t, first, again)
		}
	})
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(domain.TypeTimestamp, "2024-03-05T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), v)

	_, err = Coerce(domain.TypeTimestamp, "yesterday")
	assert.Error(t, err)

	v, err = Coerce(domain.TypeString, " keep spaces ")
	require.NoError(t, err)
	assert.Equal(t, " keep spaces ", v)
}

func TestFilterRulesOrderable(t *testing.T) {
	rules := testRules()
	assert.True(t, rules.Orderable().Has("nm_fantasia"))
	assert.False(t, rules.Orderable().Has("enderecos.municipio"))
	assert.True(t, rules.Allowed().Has("enderecos.municipio"))
}
