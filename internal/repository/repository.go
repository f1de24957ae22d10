// Package repository provides catalog driven persistence over database/sql.
package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with SQLite, PostgreSQL (lib/pq or pgx) and MySQL drivers.
type SQLRepository struct {
	db      *sql.DB
	driver  string
	catalog *domain.Catalog
	build   builder
}

var _ domain.Repository = (*SQLRepository)(nil)

// Open opens a connection pool whose statements are audited.
func Open(cfg domain.RepositoryConfig, auditor *audit.Auditor) (*sql.DB, error) {
	var (
		drv driver.Driver
		dsn string
		err error
	)

	switch cfg.Driver {
	case "sqlite":
		drv, dsn, err = sqliteDriver(cfg)
	case "postgres":
		drv, dsn = postgresDriver(cfg)
	case "pgx":
		drv, dsn = pgxDriver(cfg)
	case "mysql":
		drv, dsn = mysqlDriver(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	connector, err := audit.WrapDriver(drv, dsn, auditor)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connector: %w", cfg.Driver, err)
	}
	db := sql.OpenDB(connector)

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return db, nil
}

// New opens the database, verifies it and optionally applies migrations.
func New(ctx context.Context, cfg domain.RepositoryConfig, catalog *domain.Catalog, auditor *audit.Auditor) (*SQLRepository, error) {
	db, err := Open(cfg, auditor)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, Classify(fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err))
	}

	if cfg.Migrate {
		if err := Migrate(ctx, db, cfg.Driver); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return NewWithDB(db, cfg.Driver, catalog), nil
}

// NewWithDB wraps an open pool.
func NewWithDB(db *sql.DB, driver string, catalog *domain.Catalog) *SQLRepository {
	return &SQLRepository{
		db:      db,
		driver:  driver,
		catalog: catalog,
		build:   builder{catalog: catalog},
	}
}

// List returns one page of an entity, with relations attached.
func (r *SQLRepository) List(ctx context.Context, entity string, q domain.ListQuery) ([]*domain.Record, error) {
	s, err := r.schema(entity)
	if err != nil {
		return nil, err
	}
	st, err := r.build.selectList(s, q)
	if err != nil {
		return nil, err
	}

	recs, err := r.queryRecords(ctx, s, st)
	if err != nil {
		return nil, err
	}
	if err := r.attachRelations(ctx, s, recs, q.Projection); err != nil {
		return nil, err
	}
	return recs, nil
}

// Count returns the number of rows matching predicates.
func (r *SQLRepository) Count(ctx context.Context, entity string, predicates []domain.Predicate) (int, error) {
	s, err := r.schema(entity)
	if err != nil {
		return 0, err
	}
	st, err := r.build.count(s, predicates)
	if err != nil {
		return 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, r.rebind(st.String()), st.args...).Scan(&total); err != nil {
		return 0, Classify(err)
	}
	return total, nil
}

// Get returns one record by key with the relations the projection asks for.
func (r *SQLRepository) Get(ctx context.Context, entity string, key string, projection *domain.ProjectionSpec) (*domain.Record, error) {
	s, err := r.schema(entity)
	if err != nil {
		return nil, err
	}
	k, err := r.key(s, key)
	if err != nil {
		return nil, err
	}
	rec, err := r.getRow(ctx, s, k)
	if err != nil {
		return nil, err
	}
	if err := r.attachRelations(ctx, s, []*domain.Record{rec}, projection); err != nil {
		return nil, err
	}
	return rec, nil
}

// Create inserts a record and returns it as stored. Generated keys are
// assigned here when absent.
func (r *SQLRepository) Create(ctx context.Context, entity string, values *domain.Record) (*domain.Record, error) {
	s, err := r.schema(entity)
	if err != nil {
		return nil, err
	}
	if s.Generated && !values.Has(s.Key) {
		values.Set(s.Key, uuid.New().String())
	}
	k, ok := values.Get(s.Key)
	if !ok {
		return nil, domain.ErrValidationf("%s is required", s.Key).WithMeta("field", s.Key)
	}

	st := r.build.insert(s, values)
	if _, err := r.db.ExecContext(ctx, r.rebind(st.String()), st.args...); err != nil {
		return nil, Classify(err)
	}
	return r.getRow(ctx, s, k)
}

// Update writes the given columns of an existing record.
func (r *SQLRepository) Update(ctx context.Context, entity string, key string, values *domain.Record) (*domain.Record, error) {
	s, err := r.schema(entity)
	if err != nil {
		return nil, err
	}
	k, err := r.key(s, key)
	if err != nil {
		return nil, err
	}

	writable := false
	for _, c := range s.Columns {
		if c.Name != s.Key && values.Has(c.Name) {
			writable = true
			break
		}
	}
	if !writable {
		return r.getRow(ctx, s, k)
	}

	st := r.build.update(s, k, values)
	result, err := r.db.ExecContext(ctx, r.rebind(st.String()), st.args...)
	if err != nil {
		return nil, Classify(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, Classify(err)
	}
	if rows == 0 {
		return nil, domain.ErrNotFoundf("%s %s not found", entity, key)
	}
	return r.getRow(ctx, s, k)
}

// Delete removes a record by key.
func (r *SQLRepository) Delete(ctx context.Context, entity string, key string) error {
	s, err := r.schema(entity)
	if err != nil {
		return err
	}
	k, err := r.key(s, key)
	if err != nil {
		return err
	}

	st := r.build.delete(s, k)
	result, err := r.db.ExecContext(ctx, r.rebind(st.String()), st.args...)
	if err != nil {
		return Classify(err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Classify(err)
	}
	if rows == 0 {
		return domain.ErrNotFoundf("%s %s not found", entity, key)
	}
	return nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return Classify(r.db.PingContext(ctx))
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) schema(entity string) (*domain.EntitySchema, error) {
	s, ok := r.catalog.Entity(entity)
	if !ok {
		return nil, domain.ErrNotFoundf("unknown entity %q", entity)
	}
	return s, nil
}

func (r *SQLRepository) key(s *domain.EntitySchema, raw string) (any, error) {
	col, _ := s.Column(s.Key)
	v, err := query.Coerce(col.Type, raw)
	if err != nil {
		return nil, domain.ErrValidationf("invalid %s %q", s.Key, raw).WithMeta("field", s.Key)
	}
	return v, nil
}

func (r *SQLRepository) getRow(ctx context.Context, s *domain.EntitySchema, key any) (*domain.Record, error) {
	st := r.build.selectByKey(s, key)
	row := r.db.QueryRowContext(ctx, r.rebind(st.String()), st.args...)
	rec, err := scanRecord(row, s)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFoundf("%s %v not found", s.Name, key)
	}
	if err != nil {
		return nil, Classify(err)
	}
	return rec, nil
}

func (r *SQLRepository) queryRecords(ctx context.Context, s *domain.EntitySchema, st *statement) ([]*domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(st.String()), st.args...)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	recs := make([]*domain.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows, s)
		if err != nil {
			return nil, Classify(err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return recs, nil
}

// attachRelations loads every relation the projection wants with one query
// per relation and sets it on each parent as a list.
func (r *SQLRepository) attachRelations(ctx context.Context, s *domain.EntitySchema, parents []*domain.Record, projection *domain.ProjectionSpec) error {
	if len(parents) == 0 {
		return nil
	}
	for _, rel := range s.Relations {
		if !projection.Wants(rel.Name) {
			continue
		}
		child, ok := r.catalog.Entity(rel.Entity)
		if !ok {
			return fmt.Errorf("relation %s targets unknown entity %s", rel.Name, rel.Entity)
		}

		var keys []any
		seen := make(map[string]bool)
		for _, p := range parents {
			v, _ := p.Get(rel.LocalColumn)
			if v == nil {
				continue
			}
			id := fmt.Sprint(v)
			if !seen[id] {
				seen[id] = true
				keys = append(keys, v)
			}
		}

		grouped := make(map[string][]*domain.Record)
		if len(keys) > 0 {
			children, err := r.queryRecords(ctx, child, r.build.selectChildren(child, rel.ForeignColumn, keys))
			if err != nil {
				return err
			}
			for _, c := range children {
				v, _ := c.Get(rel.ForeignColumn)
				id := fmt.Sprint(v)
				grouped[id] = append(grouped[id], c)
			}
		}

		for _, p := range parents {
			v, _ := p.Get(rel.LocalColumn)
			list := grouped[fmt.Sprint(v)]
			if list == nil {
				list = []*domain.Record{}
			}
			p.Set(rel.Name, list)
		}
	}
	return nil
}

func (r *SQLRepository) rebind(query string) string {
	return rebind(r.driver, query)
}
