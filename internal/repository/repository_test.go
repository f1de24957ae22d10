package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/catalog"
	"github.com/opensource-finance/notas/internal/domain"
)

type countingSink struct {
	mu        sync.Mutex
	completed []domain.AuditRecord
}

func (s *countingSink) Start(context.Context, domain.AuditRecord) {}

func (s *countingSink) Complete(_ context.Context, rec domain.AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, rec)
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed)
}

func newTestRepository(t *testing.T) (*SQLRepository, *countingSink) {
	t.Helper()

	cat, err := catalog.New(nil)
	if err != nil {
		t.Fatalf("failed to build catalog: %v", err)
	}

	sink := &countingSink{}
	auditor := audit.New(time.Second, audit.WithSinks(sink))

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "notas-test.db"),
		Migrate:    true,
	}

	repo, err := New(context.Background(), cfg, cat, auditor)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo, sink
}

func seed(t *testing.T, repo *SQLRepository) {
	t.Helper()
	ctx := context.Background()

	taxpayers := []catalog.Taxpayer{
		{Code: 1, TradeName: "Padaria Central", CNPJ: "11111111000111"},
		{Code: 2, TradeName: "Mercado Azul", CNPJ: "22222222000122"},
		{Code: 3, TradeName: "Padaria do Porto", CNPJ: "33333333000133"},
	}
	for _, tp := range taxpayers {
		if _, err := repo.Create(ctx, catalog.Taxpayers, tp.Record()); err != nil {
			t.Fatalf("Create taxpayer %d failed: %v", tp.Code, err)
		}
	}

	addresses := []catalog.Address{
		{TaxpayerCode: 1, Street: "Rua das Flores 10", City: "Sao Paulo", State: "SP"},
		{TaxpayerCode: 2, Street: "Av. Atlantica 200", City: "Rio de Janeiro", State: "RJ"},
		{TaxpayerCode: 3, Street: "Rua do Porto 5", City: "Sao Paulo", State: "SP"},
	}
	for _, a := range addresses {
		if _, err := repo.Create(ctx, catalog.Addresses, a.Record()); err != nil {
			t.Fatalf("Create address failed: %v", err)
		}
	}

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	invoices := []catalog.Invoice{
		{TaxpayerCode: 1, Number: "0001", Total: 150.5, IssuedAt: day},
		{TaxpayerCode: 1, Number: "0002", Total: 900, IssuedAt: day.AddDate(0, 1, 0)},
		{TaxpayerCode: 2, Number: "0001", Total: 42, IssuedAt: day.AddDate(0, 2, 0)},
	}
	for _, inv := range invoices {
		if _, err := repo.Create(ctx, catalog.Invoices, inv.Record()); err != nil {
			t.Fatalf("Create invoice failed: %v", err)
		}
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo, sink := newTestRepository(t)
	seed(t, repo)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("GetLoadsRelations", func(t *testing.T) {
		rec, err := repo.Get(ctx, catalog.Taxpayers, "1", nil)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		name, _ := rec.Get("nm_fantasia")
		if name != "Padaria Central" {
			t.Errorf("expected nm_fantasia Padaria Central, got %v", name)
		}

		addrs, _ := rec.Get(catalog.Addresses)
		if list, ok := addrs.([]*domain.Record); !ok || len(list) != 1 {
			t.Errorf("expected 1 address, got %v", addrs)
		}
		invs, _ := rec.Get(catalog.Invoices)
		if list, ok := invs.([]*domain.Record); !ok || len(list) != 2 {
			t.Errorf("expected 2 invoices, got %v", invs)
		}
	})

	t.Run("GetSkipsUnprojectedRelations", func(t *testing.T) {
		spec := &domain.ProjectionSpec{Direct: map[string]bool{"nm_fantasia": true}}
		rec, err := repo.Get(ctx, catalog.Taxpayers, "2", spec)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec.Has(catalog.Addresses) || rec.Has(catalog.Invoices) {
			t.Errorf("expected no relations, got keys %v", rec.Keys())
		}
	})

	t.Run("GeneratedKey", func(t *testing.T) {
		rec, err := repo.Create(ctx, catalog.Addresses, catalog.Address{
			TaxpayerCode: 2, Street: "Rua Nova 1", City: "Niteroi",
		}.Record())
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		id, _ := rec.Get("id_endereco")
		if s, ok := id.(string); !ok || len(s) != 36 {
			t.Errorf("expected generated uuid, got %v", id)
		}
		uf, _ := rec.Get("uf")
		if uf != nil {
			t.Errorf("expected nil uf, got %v", uf)
		}
	})

	t.Run("ListFiltersAndOrders", func(t *testing.T) {
		recs, err := repo.List(ctx, catalog.Taxpayers, domain.ListQuery{
			Window:     domain.PaginationWindow{Offset: 0, Limit: 10, Ceiling: 50},
			Order:      []domain.OrderTerm{{Field: "nm_fantasia", Direction: domain.Desc}},
			Predicates: []domain.Predicate{{Field: "nm_fantasia", Operator: domain.OpLike, Value: "%Padaria%"}},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 records, got %d", len(recs))
		}
		first, _ := recs[0].Get("nm_fantasia")
		if first != "Padaria do Porto" {
			t.Errorf("expected Padaria do Porto first, got %v", first)
		}
	})

	t.Run("ListWindow", func(t *testing.T) {
		recs, err := repo.List(ctx, catalog.Taxpayers, domain.ListQuery{
			Window: domain.PaginationWindow{Offset: 1, Limit: 1, Ceiling: 50},
		})
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(recs) != 1 {
			t.Fatalf("expected 1 record, got %d", len(recs))
		}
		code, _ := recs[0].Get("cd_contribuinte")
		if code != int64(2) {
			t.Errorf("expected key 2 on second position, got %v", code)
		}
	})

	t.Run("CountRelationPredicate", func(t *testing.T) {
		total, err := repo.Count(ctx, catalog.Taxpayers, []domain.Predicate{
			{Field: "enderecos.municipio", Operator: domain.OpLike, Value: "%Paulo%"},
		})
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected 2 taxpayers in Sao Paulo, got %d", total)
		}
	})

	t.Run("CountRange", func(t *testing.T) {
		total, err := repo.Count(ctx, catalog.Invoices, []domain.Predicate{
			{Field: "valor_total", Operator: domain.OpBetween, Value: 100.0, Upper: 1000.0},
		})
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected 2 invoices, got %d", total)
		}

		since := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		total, err = repo.Count(ctx, catalog.Invoices, []domain.Predicate{
			{Field: "data_emissao", Operator: domain.OpGreaterEqual, Value: since},
		})
		if err != nil {
			t.Fatalf("Count failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected 2 invoices since April, got %d", total)
		}
	})

	t.Run("Update", func(t *testing.T) {
		rec, err := repo.Update(ctx, catalog.Taxpayers, "2", domain.NewRecord(1).Set("nm_fantasia", "Mercado Verde"))
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		name, _ := rec.Get("nm_fantasia")
		if name != "Mercado Verde" {
			t.Errorf("expected updated name, got %v", name)
		}

		_, err = repo.Update(ctx, catalog.Taxpayers, "99", domain.NewRecord(1).Set("nm_fantasia", "x"))
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("Duplicate", func(t *testing.T) {
		_, err := repo.Create(ctx, catalog.Taxpayers, catalog.Taxpayer{
			Code: 1, TradeName: "Outra", CNPJ: "44444444000144",
		}.Record())
		if !errors.Is(err, domain.ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got: %v", err)
		}
	})

	t.Run("ForeignKeyOnCreate", func(t *testing.T) {
		_, err := repo.Create(ctx, catalog.Addresses, catalog.Address{
			TaxpayerCode: 999, Street: "Rua X", City: "Y",
		}.Record())
		if !errors.Is(err, domain.ErrForeignKeyConflict) {
			t.Errorf("expected ErrForeignKeyConflict, got: %v", err)
		}
	})

	t.Run("ForeignKeyOnDelete", func(t *testing.T) {
		err := repo.Delete(ctx, catalog.Taxpayers, "1")
		if !errors.Is(err, domain.ErrForeignKeyConflict) {
			t.Errorf("expected ErrForeignKeyConflict, got: %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if _, err := repo.Create(ctx, catalog.Taxpayers, catalog.Taxpayer{
			Code: 10, TradeName: "Temporaria", CNPJ: "10101010000110",
		}.Record()); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := repo.Delete(ctx, catalog.Taxpayers, "10"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := repo.Delete(ctx, catalog.Taxpayers, "10"); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("InvalidKey", func(t *testing.T) {
		_, err := repo.Get(ctx, catalog.Taxpayers, "abc", nil)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got: %v", err)
		}
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		_, err := repo.Count(ctx, "produtos", nil)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("StatementsAudited", func(t *testing.T) {
		if sink.count() == 0 {
			t.Error("expected audited statements")
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cat, _ := catalog.New(nil)
	cfg := domain.RepositoryConfig{
		Driver: "oracle",
	}

	_, err := New(context.Background(), cfg, cat, audit.New(time.Second))
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	if got := rebind("mysql", "SELECT ?"); got != "SELECT ?" {
		t.Errorf("expected mysql query untouched, got %q", got)
	}
}
