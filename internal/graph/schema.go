package graph

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/notas/internal/domain"
)

// Shared SDL. Filter is an object of raw filter keys and values, validated
// by the same rules as REST query parameters.
const prelude = `
scalar Filter
scalar Time

enum Direction {
  ASC
  DESC
}

input Order {
  field: String!
  direction: Direction!
}

type Pagination {
  offset: Int!
  limit: Int!
  total: Int!
  accept_ranges: Int!
  partial: Boolean!
}
`

// SDL renders the schema served for catalog. Every entity gets a root list
// field named after it returning a page of items.
func SDL(catalog *domain.Catalog) string {
	var sb strings.Builder
	sb.WriteString(prelude)

	names := catalog.Names()
	for _, name := range names {
		s, _ := catalog.Entity(name)

		fmt.Fprintf(&sb, "\ntype %s {\n", itemType(name))
		for _, c := range s.Columns {
			fmt.Fprintf(&sb, "  %s: %s\n", c.Name, scalarFor(c.Type))
		}
		for _, r := range s.Relations {
			fmt.Fprintf(&sb, "  %s: [%s!]\n", r.Name, itemType(r.Entity))
		}
		sb.WriteString("}\n")

		fmt.Fprintf(&sb, "\ntype %s {\n  pagination: Pagination!\n  items: [%s!]!\n}\n", pageType(name), itemType(name))
	}

	sb.WriteString("\ntype Query {\n")
	for _, name := range names {
		fmt.Fprintf(&sb, "  %s(offset: Int, limit: Int, filter: Filter, order: [Order!]): %s\n", name, pageType(name))
	}
	sb.WriteString("}\n")
	return sb.String()
}

func scalarFor(t domain.ColumnType) string {
	switch t {
	case domain.TypeInteger:
		return "Int"
	case domain.TypeDecimal:
		return "Float"
	case domain.TypeTimestamp:
		return "Time"
	default:
		return "String"
	}
}

func itemType(entity string) string {
	return typeName(entity) + "Item"
}

func pageType(entity string) string {
	return typeName(entity) + "Page"
}

// typeName turns an entity name such as "notas_fiscais" into "NotasFiscais".
func typeName(entity string) string {
	var sb strings.Builder
	for _, part := range strings.Split(entity, "_") {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(part[1:])
	}
	return sb.String()
}
