package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/bus"
	"github.com/opensource-finance/notas/internal/cache"
	"github.com/opensource-finance/notas/internal/catalog"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
	"github.com/opensource-finance/notas/internal/repository"
	"github.com/opensource-finance/notas/internal/rules"
)

type fixture struct {
	svc    *Service
	bus    *bus.ChannelBus
	counts *cache.CountCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	cat, err := catalog.New(nil)
	require.NoError(t, err)

	repo, err := repository.New(ctx, domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "service.db"),
		Migrate:    true,
	}, cat, audit.New(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine, err := rules.NewEngine(4)
	require.NoError(t, err)
	require.NoError(t, engine.LoadRules(catalog.DefaultRules()))

	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	counts := cache.NewCountCache(cache.NewLRUCache(100), time.Minute, nil)

	svc := New(repo, cat, domain.QueryConfig{Ceiling: 50},
		WithRules(engine),
		WithCountCache(counts),
		WithEventBus(b),
	)
	return fixture{svc: svc, bus: b, counts: counts}
}

func taxpayerBody(code int, name, cnpj string) map[string]any {
	return map[string]any{
		"cd_contribuinte":   json.Number(strconv.Itoa(code)),
		"nm_fantasia":       name,
		"cnpj_contribuinte": cnpj,
	}
}

func params(t *testing.T, raw string) query.Params {
	t.Helper()
	ps, err := query.ParseRawQuery(raw)
	require.NoError(t, err)
	return query.Classify(ps)
}

func TestPrepare(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Prepare(catalog.Invoices, params(t, "limit=500&des=valor_total&valor_total_min=10&fields=numero"))
	require.NoError(t, err)
	assert.Equal(t, domain.PaginationWindow{Offset: 0, Limit: 50, Ceiling: 50}, q.Window)
	assert.Equal(t, []domain.OrderTerm{{Field: "valor_total", Direction: domain.Desc}}, q.Order)
	require.Len(t, q.Predicates, 1)
	assert.Equal(t, domain.OpGreaterEqual, q.Predicates[0].Operator)
	require.NotNil(t, q.Projection)
	assert.True(t, q.Projection.Direct["numero"])

	tests := []struct {
		name   string
		entity string
		raw    string
		target error
	}{
		{"unknown entity", "produtos", "", domain.ErrNotFound},
		{"zero limit", catalog.Taxpayers, "limit=0", domain.ErrValidation},
		{"order conflict", catalog.Taxpayers, "asc=nm_fantasia&des=nm_fantasia", domain.ErrValidation},
		{"order on relation", catalog.Taxpayers, "asc=enderecos.uf", domain.ErrValidation},
		{"unknown filter", catalog.Taxpayers, "senha=x", domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Prepare(tt.entity, params(t, tt.raw))
			assert.ErrorIs(t, err, tt.target)
		})
	}
}

func TestListAndCountCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i, name := range []string{"Padaria Central", "Mercado Azul", "Padaria do Porto"} {
		_, err := f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(i+1, name, "1111111100011"+strconv.Itoa(i)))
		require.NoError(t, err)
	}

	q, err := f.svc.Prepare(catalog.Taxpayers, params(t, "limit=2&nm_fantasia=Padaria%25&fields=nm_fantasia"))
	require.NoError(t, err)

	res, err := f.svc.List(ctx, catalog.Taxpayers, q)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Envelope.Total)
	assert.False(t, res.Envelope.Partial)
	require.Len(t, res.Items, 2)
	assert.Equal(t, []string{"nm_fantasia"}, res.Items[0].Keys())

	// The cached total is served until a write bumps the generation.
	gen, err := f.counts.Generation(ctx, catalog.Taxpayers)
	require.NoError(t, err)
	cached, ok := f.counts.Get(ctx, catalog.Taxpayers, q.Predicates)
	require.True(t, ok)
	assert.Equal(t, 2, cached)

	_, err = f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(4, "Padaria Nova", "44444444000144"))
	require.NoError(t, err)

	next, err := f.counts.Generation(ctx, catalog.Taxpayers)
	require.NoError(t, err)
	assert.Greater(t, next, gen)

	res, err = f.svc.List(ctx, catalog.Taxpayers, q)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Envelope.Total)
	assert.True(t, res.Envelope.Partial)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("rule violations", func(t *testing.T) {
		_, err := f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(1, "  ", "123"))
		require.ErrorIs(t, err, domain.ErrValidation)
		de, _ := domain.AsError(err)
		violations, ok := de.Metadata["violations"].([]domain.RuleViolation)
		require.True(t, ok)
		assert.Len(t, violations, 2)
	})

	t.Run("unknown fields and bad values", func(t *testing.T) {
		body := taxpayerBody(1, "Loja", "12345678000190")
		body["senha"] = "x"
		body["cd_contribuinte"] = "um"
		_, err := f.svc.Create(ctx, catalog.Taxpayers, body)
		require.ErrorIs(t, err, domain.ErrValidation)
		de, _ := domain.AsError(err)
		assert.Equal(t, []string{"senha"}, de.Metadata["invalid_fields"])
		assert.Equal(t, map[string]string{"cd_contribuinte": "expected integer"}, de.Metadata["invalid_values"])
	})

	t.Run("missing required", func(t *testing.T) {
		_, err := f.svc.Create(ctx, catalog.Addresses, map[string]any{"logradouro": "Rua A"})
		require.ErrorIs(t, err, domain.ErrValidation)
		de, _ := domain.AsError(err)
		assert.Equal(t, []string{"cd_contribuinte", "municipio"}, de.Metadata["invalid_fields"])
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(9, "Loja", "99999999000199"))
		require.NoError(t, err)
		_, err = f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(9, "Loja", "99999999000198"))
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})
}

func TestUpdateAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	events := make(chan domain.ChangeEvent, 10)
	_, err := f.bus.Subscribe(ctx, domain.TopicEntityChanged, func(_ context.Context, msg *domain.Message) error {
		var ev domain.ChangeEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			return err
		}
		events <- ev
		return nil
	})
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(1, "Loja", "12345678000190"))
	require.NoError(t, err)

	updated, err := f.svc.Update(ctx, catalog.Taxpayers, "1", map[string]any{"nm_fantasia": "Loja Nova"})
	require.NoError(t, err)
	name, _ := updated.Get("nm_fantasia")
	assert.Equal(t, "Loja Nova", name)

	_, err = f.svc.Update(ctx, catalog.Taxpayers, "1", map[string]any{"cnpj_contribuinte": "x"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Update(ctx, catalog.Taxpayers, "1", map[string]any{"cd_contribuinte": json.Number("2")})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Update(ctx, catalog.Taxpayers, "77", map[string]any{"nm_fantasia": "x"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.svc.Delete(ctx, catalog.Taxpayers, "1"))
	assert.ErrorIs(t, f.svc.Delete(ctx, catalog.Taxpayers, "1"), domain.ErrNotFound)

	var ops []domain.ChangeOp
	timeout := time.After(time.Second)
	for len(ops) < 3 {
		select {
		case ev := <-events:
			assert.Equal(t, catalog.Taxpayers, ev.Entity)
			assert.Equal(t, "1", ev.Key)
			ops = append(ops, ev.Op)
		case <-timeout:
			t.Fatalf("expected 3 change events, got %v", ops)
		}
	}
	assert.Equal(t, []domain.ChangeOp{domain.ChangeCreated, domain.ChangeUpdated, domain.ChangeDeleted}, ops)
}

func TestGetProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, catalog.Taxpayers, taxpayerBody(1, "Loja", "12345678000190"))
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, catalog.Addresses, map[string]any{
		"cd_contribuinte": json.Number("1"), "logradouro": "Rua A", "municipio": "Recife", "uf": "PE",
	})
	require.NoError(t, err)

	rec, err := f.svc.Get(ctx, catalog.Taxpayers, "1", "nm_fantasia,enderecos.municipio", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"nm_fantasia", "enderecos"}, rec.Keys())

	addrs, _ := rec.Get("enderecos")
	list := addrs.([]*domain.Record)
	require.Len(t, list, 1)
	assert.Equal(t, []string{"municipio"}, list[0].Keys())
}
