package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// statement is SQL text with ? placeholders and its arguments.
type statement struct {
	sql  strings.Builder
	args []any
}

func (s *statement) write(parts ...string) {
	for _, p := range parts {
		s.sql.WriteString(p)
	}
}

func (s *statement) arg(v any) {
	s.sql.WriteByte('?')
	s.args = append(s.args, v)
}

func (s *statement) String() string { return s.sql.String() }

// builder renders catalog driven statements. Identifiers come only from
// the catalog, never from request input.
type builder struct {
	catalog *domain.Catalog
}

func (b builder) columns(alias string, s *domain.EntitySchema) string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = alias + "." + c.Name
	}
	return strings.Join(cols, ", ")
}

func (b builder) selectList(s *domain.EntitySchema, q domain.ListQuery) (*statement, error) {
	st := &statement{}
	st.write("SELECT ", b.columns("t", s), " FROM ", s.Table, " t")
	if err := b.where(st, s, q.Predicates); err != nil {
		return nil, err
	}
	if err := b.orderBy(st, s, q.Order); err != nil {
		return nil, err
	}
	st.write(" LIMIT ")
	st.arg(q.Window.Limit)
	st.write(" OFFSET ")
	st.arg(q.Window.Offset)
	return st, nil
}

func (b builder) count(s *domain.EntitySchema, preds []domain.Predicate) (*statement, error) {
	st := &statement{}
	st.write("SELECT COUNT(*) FROM ", s.Table, " t")
	if err := b.where(st, s, preds); err != nil {
		return nil, err
	}
	return st, nil
}

func (b builder) selectByKey(s *domain.EntitySchema, key any) *statement {
	st := &statement{}
	st.write("SELECT ", b.columns("t", s), " FROM ", s.Table, " t WHERE t.", s.Key, " = ")
	st.arg(key)
	return st
}

// selectChildren loads a relation for a set of parent values.
func (b builder) selectChildren(child *domain.EntitySchema, foreign string, parents []any) *statement {
	st := &statement{}
	st.write("SELECT ", b.columns("c", child), " FROM ", child.Table, " c WHERE c.", foreign, " IN (")
	for i, p := range parents {
		if i > 0 {
			st.write(", ")
		}
		st.arg(p)
	}
	st.write(") ORDER BY c.", foreign, ", c.", child.Key)
	return st
}

func (b builder) insert(s *domain.EntitySchema, values *domain.Record) *statement {
	st := &statement{}
	var cols []string
	var args []any
	for _, c := range s.Columns {
		if v, ok := values.Get(c.Name); ok {
			cols = append(cols, c.Name)
			args = append(args, v)
		}
	}
	st.write("INSERT INTO ", s.Table, " (", strings.Join(cols, ", "), ") VALUES (")
	for i, a := range args {
		if i > 0 {
			st.write(", ")
		}
		st.arg(a)
	}
	st.write(")")
	return st
}

func (b builder) update(s *domain.EntitySchema, key any, values *domain.Record) *statement {
	st := &statement{}
	st.write("UPDATE ", s.Table, " SET ")
	n := 0
	for _, c := range s.Columns {
		if c.Name == s.Key {
			continue
		}
		v, ok := values.Get(c.Name)
		if !ok {
			continue
		}
		if n > 0 {
			st.write(", ")
		}
		st.write(c.Name, " = ")
		st.arg(v)
		n++
	}
	st.write(" WHERE ", s.Key, " = ")
	st.arg(key)
	return st
}

func (b builder) delete(s *domain.EntitySchema, key any) *statement {
	st := &statement{}
	st.write("DELETE FROM ", s.Table, " WHERE ", s.Key, " = ")
	st.arg(key)
	return st
}

// where renders predicates on the entity's own columns directly and groups
// relation predicates into one EXISTS per relation, so every condition on a
// relation must hold for the same child row.
func (b builder) where(st *statement, s *domain.EntitySchema, preds []domain.Predicate) error {
	if len(preds) == 0 {
		return nil
	}

	var relOrder []string
	byRel := make(map[string][]domain.Predicate)
	first := true
	and := func() {
		if first {
			st.write(" WHERE ")
			first = false
		} else {
			st.write(" AND ")
		}
	}

	for _, p := range preds {
		rel, col, nested := strings.Cut(p.Field, ".")
		if !nested {
			if _, ok := s.Column(p.Field); !ok {
				return fmt.Errorf("entity %s has no column %q", s.Name, p.Field)
			}
			and()
			condition(st, "t."+p.Field, p)
			continue
		}
		if _, ok := s.Relation(rel); !ok {
			return fmt.Errorf("entity %s has no relation %q", s.Name, rel)
		}
		if _, seen := byRel[rel]; !seen {
			relOrder = append(relOrder, rel)
		}
		byRel[rel] = append(byRel[rel], domain.Predicate{Field: col, Operator: p.Operator, Value: p.Value, Upper: p.Upper})
	}

	for i, name := range relOrder {
		r, _ := s.Relation(name)
		child, ok := b.catalog.Entity(r.Entity)
		if !ok {
			return fmt.Errorf("relation %s targets unknown entity %s", name, r.Entity)
		}
		alias := "r" + strconv.Itoa(i)
		and()
		st.write("EXISTS (SELECT 1 FROM ", child.Table, " ", alias,
			" WHERE ", alias, ".", r.ForeignColumn, " = t.", r.LocalColumn)
		for _, p := range byRel[name] {
			if _, ok := child.Column(p.Field); !ok {
				return fmt.Errorf("entity %s has no column %q", child.Name, p.Field)
			}
			st.write(" AND ")
			condition(st, alias+"."+p.Field, p)
		}
		st.write(")")
	}
	return nil
}

func condition(st *statement, column string, p domain.Predicate) {
	switch p.Operator {
	case domain.OpBetween:
		st.write(column, " BETWEEN ")
		st.arg(p.Value)
		st.write(" AND ")
		st.arg(p.Upper)
	case domain.OpLike, domain.OpGreaterEqual, domain.OpLessEqual:
		st.write(column, " ", string(p.Operator), " ")
		st.arg(p.Value)
	default:
		st.write(column, " = ")
		st.arg(p.Value)
	}
}

// orderBy renders the sort list and appends the key as a tiebreaker so
// pages are stable.
func (b builder) orderBy(st *statement, s *domain.EntitySchema, terms []domain.OrderTerm) error {
	parts := make([]string, 0, len(terms)+1)
	hasKey := false
	for _, t := range terms {
		if _, ok := s.Column(t.Field); !ok {
			return fmt.Errorf("entity %s has no column %q", s.Name, t.Field)
		}
		parts = append(parts, "t."+t.Field+" "+string(t.Direction))
		hasKey = hasKey || t.Field == s.Key
	}
	if !hasKey {
		parts = append(parts, "t."+s.Key+" ASC")
	}
	st.write(" ORDER BY ", strings.Join(parts, ", "))
	return nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL drivers.
func rebind(driver string, query string) string {
	if driver != "postgres" && driver != "pgx" {
		return query
	}

	var sb strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			n++
		} else {
			sb.WriteByte(query[i])
		}
	}
	return sb.String()
}
