// Package service runs the list pipeline and the write path for every
// catalog entity.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/notas/internal/cache"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
	"github.com/opensource-finance/notas/internal/rules"
)

// Service is shared by the REST and graph transports.
type Service struct {
	repo    domain.Repository
	catalog *domain.Catalog
	counts  *cache.CountCache
	engine  *rules.Engine
	bus     domain.EventBus
	ceiling int
	logger  *slog.Logger

	filterRules map[string]query.FilterRules
}

// Option configures a Service.
type Option func(*Service)

// WithCountCache caches list totals.
func WithCountCache(c *cache.CountCache) Option {
	return func(s *Service) { s.counts = c }
}

// WithRules checks writes against CEL rules.
func WithRules(e *rules.Engine) Option {
	return func(s *Service) { s.engine = e }
}

// WithEventBus publishes change events after writes.
func WithEventBus(b domain.EventBus) Option {
	return func(s *Service) { s.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a service over repo for the entities in catalog.
func New(repo domain.Repository, catalog *domain.Catalog, cfg domain.QueryConfig, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		catalog:     catalog,
		ceiling:     cfg.Ceiling,
		logger:      slog.Default(),
		filterRules: make(map[string]query.FilterRules),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, name := range catalog.Names() {
		s.filterRules[name] = query.NewFilterRules(catalog.Fields(name))
	}
	return s
}

// Catalog returns the entity catalog.
func (s *Service) Catalog() *domain.Catalog {
	return s.catalog
}

// Ceiling returns the maximum page size.
func (s *Service) Ceiling() int {
	return s.ceiling
}

// Ready reports whether storage is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// ListResult is one page plus its envelope.
type ListResult struct {
	Items    []*domain.Record
	Envelope domain.PaginationEnvelope
}

// Prepare validates classified parameters into a list query. Nothing
// reaches storage when it fails.
func (s *Service) Prepare(entity string, p query.Params) (domain.ListQuery, error) {
	fr, err := s.rulesFor(entity)
	if err != nil {
		return domain.ListQuery{}, err
	}

	window, err := query.ParsePagination(p.Offset, p.Limit, s.ceiling)
	if err != nil {
		return domain.ListQuery{}, err
	}

	order, err := query.BuildOrder(p.Order, fr.Orderable())
	if err != nil {
		return domain.ListQuery{}, err
	}

	preds, err := query.ValidateFilters(p.Filters, fr)
	if err != nil {
		return domain.ListQuery{}, err
	}

	q := domain.ListQuery{Window: window, Order: order, Predicates: preds}
	if p.HasFields {
		q.Projection = query.ParseProjection(p.Fields)
	}
	return q, nil
}

// List fetches a page and the matching total concurrently.
func (s *Service) List(ctx context.Context, entity string, q domain.ListQuery) (ListResult, error) {
	if _, err := s.rulesFor(entity); err != nil {
		return ListResult{}, err
	}

	var (
		recs  []*domain.Record
		total int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		recs, err = s.repo.List(gctx, entity, q)
		return err
	})
	g.Go(func() error {
		if n, ok := s.counts.Get(gctx, entity, q.Predicates); ok {
			total = n
			return nil
		}
		n, err := s.repo.Count(gctx, entity, q.Predicates)
		if err != nil {
			return err
		}
		s.counts.Set(gctx, entity, q.Predicates, n)
		total = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return ListResult{}, err
	}

	return ListResult{
		Items:    query.ApplyAll(q.Projection, recs),
		Envelope: query.BuildEnvelope(q.Window, total),
	}, nil
}

// Get fetches one record, projected by the fields directive when given.
func (s *Service) Get(ctx context.Context, entity, key string, fields string, hasFields bool) (*domain.Record, error) {
	var spec *domain.ProjectionSpec
	if hasFields {
		spec = query.ParseProjection(fields)
	}
	rec, err := s.repo.Get(ctx, entity, key, spec)
	if err != nil {
		return nil, err
	}
	return query.Apply(spec, rec), nil
}

// Create validates and inserts a record.
func (s *Service) Create(ctx context.Context, entity string, body map[string]any) (*domain.Record, error) {
	schema, err := s.schema(entity)
	if err != nil {
		return nil, err
	}
	rec, err := decode(schema, body)
	if err != nil {
		return nil, err
	}
	if err := s.check(ctx, schema, rec); err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, entity, rec)
	if err != nil {
		return nil, err
	}
	key, _ := created.Get(schema.Key)
	s.changed(ctx, entity, fmt.Sprint(key), domain.ChangeCreated)
	return created, nil
}

// Update validates the merged record and writes the given fields.
func (s *Service) Update(ctx context.Context, entity, key string, body map[string]any) (*domain.Record, error) {
	schema, err := s.schema(entity)
	if err != nil {
		return nil, err
	}
	changes, err := decode(schema, body)
	if err != nil {
		return nil, err
	}

	// No relations are loaded for the merge.
	existing, err := s.repo.Get(ctx, entity, key, &domain.ProjectionSpec{})
	if err != nil {
		return nil, err
	}
	if v, ok := changes.Get(schema.Key); ok {
		current, _ := existing.Get(schema.Key)
		if fmt.Sprint(v) != fmt.Sprint(current) {
			return nil, domain.ErrValidationf("%s cannot be changed", schema.Key).WithMeta("field", schema.Key)
		}
		changes.Delete(schema.Key)
	}

	merged := domain.NewRecord(existing.Len())
	for _, k := range existing.Keys() {
		v, _ := existing.Get(k)
		merged.Set(k, v)
	}
	for _, k := range changes.Keys() {
		v, _ := changes.Get(k)
		merged.Set(k, v)
	}
	if err := s.check(ctx, schema, merged); err != nil {
		return nil, err
	}

	updated, err := s.repo.Update(ctx, entity, key, changes)
	if err != nil {
		return nil, err
	}
	s.changed(ctx, entity, key, domain.ChangeUpdated)
	return updated, nil
}

// Delete removes a record.
func (s *Service) Delete(ctx context.Context, entity, key string) error {
	if _, err := s.schema(entity); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, entity, key); err != nil {
		return err
	}
	s.changed(ctx, entity, key, domain.ChangeDeleted)
	return nil
}

// check enforces required columns and write rules on a complete record.
func (s *Service) check(ctx context.Context, schema *domain.EntitySchema, rec *domain.Record) error {
	var missing []string
	for _, c := range schema.Columns {
		if !c.Required {
			continue
		}
		if v, ok := rec.Get(c.Name); !ok || v == nil {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return domain.ErrValidationf("missing required fields: %s", join(missing)).
			WithMeta("invalid_fields", missing)
	}

	if s.engine == nil {
		return nil
	}
	if violations := s.engine.Evaluate(ctx, schema.Name, rec); len(violations) > 0 {
		ids := make([]string, len(violations))
		for i, v := range violations {
			ids[i] = v.RuleID
		}
		return domain.ErrValidationf("record violates rules: %s", join(ids)).
			WithMeta("violations", violations)
	}
	return nil
}

// changed invalidates cached totals and announces the write. Failures are
// logged; the write already succeeded.
func (s *Service) changed(ctx context.Context, entity, key string, op domain.ChangeOp) {
	ctx = context.WithoutCancel(ctx)

	if err := s.counts.Bump(ctx, entity); err != nil {
		s.logger.Warn("failed to invalidate count cache", "entity", entity, "error", err)
	}

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.ChangeEvent{
		Entity:    entity,
		Key:       key,
		Op:        op,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.TopicEntityChanged, payload); err != nil {
		s.logger.Warn("failed to publish change event", "entity", entity, "key", key, "error", err)
	}
}

func (s *Service) schema(entity string) (*domain.EntitySchema, error) {
	schema, ok := s.catalog.Entity(entity)
	if !ok {
		return nil, domain.ErrNotFoundf("unknown entity %q", entity)
	}
	return schema, nil
}

func (s *Service) rulesFor(entity string) (query.FilterRules, error) {
	r, ok := s.filterRules[entity]
	if !ok {
		return query.FilterRules{}, domain.ErrNotFoundf("unknown entity %q", entity)
	}
	return r, nil
}
