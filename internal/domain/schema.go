package domain

import (
	"fmt"
	"slices"
)

// ColumnType is the storage type of a column, used to coerce raw filter
// values and request bodies.
type ColumnType string

const (
	TypeString    ColumnType = "string"
	TypeInteger   ColumnType = "integer"
	TypeDecimal   ColumnType = "decimal"
	TypeTimestamp ColumnType = "timestamp"
)

// Column describes one column of an entity table.
type Column struct {
	Name     string
	Type     ColumnType
	Text     bool // filtered with a contains pattern
	Range    bool // filtered with <name>_min / <name>_max bounds
	Required bool
}

// Relation is a one-to-many link from an entity to a child entity.
type Relation struct {
	Name          string
	Entity        string
	LocalColumn   string
	ForeignColumn string
}

// EntitySchema declares how an entity is stored and exposed.
type EntitySchema struct {
	Name      string
	Table     string
	Key       string
	Generated bool // key is generated on create
	Columns   []Column
	Relations []Relation
}

// Column looks up a column by name.
func (s *EntitySchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Relation looks up a relation by name.
func (s *EntitySchema) Relation(name string) (Relation, bool) {
	for _, r := range s.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// ColumnNames returns the column names in declaration order.
func (s *EntitySchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// FieldInfo describes a filterable or orderable field path. Relation paths
// use the "relation.column" form.
type FieldInfo struct {
	Path     string
	Type     ColumnType
	Text     bool
	Range    bool
	Relation string
	Column   string
}

// Catalog is the set of exposed entities.
type Catalog struct {
	order    []string
	entities map[string]*EntitySchema
}

// NewCatalog builds a catalog and checks that every relation points at a
// declared entity and column.
func NewCatalog(schemas ...*EntitySchema) (*Catalog, error) {
	c := &Catalog{entities: make(map[string]*EntitySchema, len(schemas))}
	for _, s := range schemas {
		if _, dup := c.entities[s.Name]; dup {
			return nil, fmt.Errorf("entity %q declared twice", s.Name)
		}
		if _, ok := s.Column(s.Key); !ok {
			return nil, fmt.Errorf("entity %q: key column %q not declared", s.Name, s.Key)
		}
		c.entities[s.Name] = s
		c.order = append(c.order, s.Name)
	}
	for _, s := range schemas {
		for _, r := range s.Relations {
			target, ok := c.entities[r.Entity]
			if !ok {
				return nil, fmt.Errorf("entity %q: relation %q targets unknown entity %q", s.Name, r.Name, r.Entity)
			}
			if _, ok := s.Column(r.LocalColumn); !ok {
				return nil, fmt.Errorf("entity %q: relation %q local column %q not declared", s.Name, r.Name, r.LocalColumn)
			}
			if _, ok := target.Column(r.ForeignColumn); !ok {
				return nil, fmt.Errorf("entity %q: relation %q foreign column %q not declared", s.Name, r.Name, r.ForeignColumn)
			}
		}
	}
	return c, nil
}

// Entity returns the schema of a named entity.
func (c *Catalog) Entity(name string) (*EntitySchema, bool) {
	s, ok := c.entities[name]
	return s, ok
}

// Names returns entity names in declaration order.
func (c *Catalog) Names() []string {
	return slices.Clone(c.order)
}

// Fields lists every field path of an entity: its own columns followed by
// one-level relation columns.
func (c *Catalog) Fields(entity string) []FieldInfo {
	s, ok := c.entities[entity]
	if !ok {
		return nil
	}
	var out []FieldInfo
	for _, col := range s.Columns {
		out = append(out, FieldInfo{
			Path:   col.Name,
			Type:   col.Type,
			Text:   col.Text,
			Range:  col.Range,
			Column: col.Name,
		})
	}
	for _, rel := range s.Relations {
		target := c.entities[rel.Entity]
		for _, col := range target.Columns {
			out = append(out, FieldInfo{
				Path:     rel.Name + "." + col.Name,
				Type:     col.Type,
				Text:     col.Text,
				Relation: rel.Name,
				Column:   col.Name,
			})
		}
	}
	return out
}

// MarkText overrides the text flag of the named columns of an entity.
func (c *Catalog) MarkText(entity string, columns []string) error {
	s, ok := c.entities[entity]
	if !ok {
		return fmt.Errorf("unknown entity %q", entity)
	}
	for i := range s.Columns {
		s.Columns[i].Text = s.Columns[i].Type == TypeString && slices.Contains(columns, s.Columns[i].Name)
	}
	return nil
}
