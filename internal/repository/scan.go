package repository

import (
	"database/sql"
	"time"

	"github.com/opensource-finance/notas/internal/domain"
)

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row selected with builder.columns into a Record
// holding int64, float64, string, time.Time or nil values.
func scanRecord(row scanner, s *domain.EntitySchema) (*domain.Record, error) {
	dest := make([]any, len(s.Columns))
	for i, c := range s.Columns {
		switch c.Type {
		case domain.TypeInteger:
			dest[i] = new(sql.NullInt64)
		case domain.TypeDecimal:
			dest[i] = new(sql.NullFloat64)
		case domain.TypeTimestamp:
			dest[i] = new(sql.NullTime)
		default:
			dest[i] = new(sql.NullString)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec := domain.NewRecord(len(s.Columns) + len(s.Relations))
	for i, c := range s.Columns {
		rec.Set(c.Name, nullValue(dest[i]))
	}
	return rec, nil
}

func nullValue(v any) any {
	switch n := v.(type) {
	case *sql.NullInt64:
		if n.Valid {
			return n.Int64
		}
	case *sql.NullFloat64:
		if n.Valid {
			return n.Float64
		}
	case *sql.NullTime:
		if n.Valid {
			return n.Time.UTC().Truncate(time.Microsecond)
		}
	case *sql.NullString:
		if n.Valid {
			return n.String
		}
	}
	return nil
}
