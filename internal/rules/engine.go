// Package rules provides the CEL-Go based write rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/opensource-finance/notas/internal/domain"
)

// Engine evaluates write rules against records before they are persisted.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string][]*CompiledRule // by entity, sorted by rule ID
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.WriteRule
	Program cel.Program
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// The record under write is exposed as a map so one environment serves
	// every entity.
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string][]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.WriteRule) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRules replaces the loaded rules. Disabled rules are skipped; one
// invalid rule leaves the previous set in place.
func (e *Engine) LoadRules(configs []*domain.WriteRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := make(map[string][]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		next[cfg.Entity] = append(next[cfg.Entity], compiled)
	}
	for _, list := range next {
		sort.Slice(list, func(i, j int) bool { return list[i].Config.ID < list[j].Config.ID })
	}

	e.compiledRules = next
	return nil
}

// Evaluate runs every rule of entity against rec in parallel and returns
// the violated ones in rule ID order. A rule that fails to evaluate counts
// as violated.
func (e *Engine) Evaluate(ctx context.Context, entity string, rec *domain.Record) []domain.RuleViolation {
	e.mu.RLock()
	rules := e.compiledRules[entity]
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := map[string]any{"record": rec.Map()}

	failed := make([]bool, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			failed[idx] = !e.passes(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	var violations []domain.RuleViolation
	for i, r := range rules {
		if failed[i] {
			violations = append(violations, domain.RuleViolation{
				RuleID:      r.Config.ID,
				Description: r.Config.Description,
			})
		}
	}
	return violations
}

func (e *Engine) passes(ctx context.Context, rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, list := range e.compiledRules {
		n += len(list)
	}
	return n
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string][]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.WriteRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
