package service

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
)

// decode converts a JSON object into a record of typed column values in
// schema order. Unknown keys and values of the wrong type are reported
// together.
func decode(schema *domain.EntitySchema, body map[string]any) (*domain.Record, error) {
	rec := domain.NewRecord(len(body))
	badValues := make(map[string]string)

	for _, c := range schema.Columns {
		raw, ok := body[c.Name]
		if !ok {
			continue
		}
		v, err := convert(c.Type, raw)
		if err != nil {
			badValues[c.Name] = err.Error()
			continue
		}
		rec.Set(c.Name, v)
	}

	var unknown []string
	for k := range body {
		if _, ok := schema.Column(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)

	if len(unknown) == 0 && len(badValues) == 0 {
		return rec, nil
	}

	var parts []string
	if len(unknown) > 0 {
		parts = append(parts, "unknown fields: "+join(unknown))
	}
	if len(badValues) > 0 {
		names := make([]string, 0, len(badValues))
		for k := range badValues {
			names = append(names, k)
		}
		sort.Strings(names)
		parts = append(parts, "invalid values: "+join(names))
	}
	de := domain.ErrValidationf("%s", strings.Join(parts, "; "))
	if len(unknown) > 0 {
		de = de.WithMeta("invalid_fields", unknown)
	}
	if len(badValues) > 0 {
		de = de.WithMeta("invalid_values", badValues)
	}
	return nil, de
}

func convert(t domain.ColumnType, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch t {
	case domain.TypeInteger:
		switch v := raw.(type) {
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, fmt.Errorf("expected integer")
			}
			return n, nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer")
			}
			return int64(v), nil
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		}
		return nil, fmt.Errorf("expected integer")
	case domain.TypeDecimal:
		switch v := raw.(type) {
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, fmt.Errorf("expected number")
			}
			return f, nil
		case float64:
			return v, nil
		case int64:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
		return nil, fmt.Errorf("expected number")
	case domain.TypeTimestamp:
		if ts, ok := raw.(time.Time); ok {
			return ts.UTC(), nil
		}
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp")
		}
		v, err := query.Coerce(domain.TypeTimestamp, s)
		if err != nil {
			return nil, fmt.Errorf("expected timestamp")
		}
		return v, nil
	default:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string")
		}
		return s, nil
	}
}

func join(names []string) string {
	return strings.Join(names, ", ")
}
