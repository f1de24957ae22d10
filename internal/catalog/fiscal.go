// Package catalog declares the fiscal entities exposed by notas.
package catalog

import "github.com/opensource-finance/notas/internal/domain"

// Entity names, also used as REST paths and graph root fields.
const (
	Taxpayers = "contribuintes"
	Addresses = "enderecos"
	Invoices  = "danfes"
)

// TaxpayerSchema describes contribuintes.
func TaxpayerSchema() *domain.EntitySchema {
	return &domain.EntitySchema{
		Name:  Taxpayers,
		Table: "contribuinte",
		Key:   "cd_contribuinte",
		Columns: []domain.Column{
			{Name: "cd_contribuinte", Type: domain.TypeInteger, Required: true},
			{Name: "nm_fantasia", Type: domain.TypeString, Text: true, Required: true},
			{Name: "cnpj_contribuinte", Type: domain.TypeString, Required: true},
		},
		Relations: []domain.Relation{
			{Name: Addresses, Entity: Addresses, LocalColumn: "cd_contribuinte", ForeignColumn: "cd_contribuinte"},
			{Name: Invoices, Entity: Invoices, LocalColumn: "cd_contribuinte", ForeignColumn: "cd_contribuinte"},
		},
	}
}

// AddressSchema describes enderecos.
func AddressSchema() *domain.EntitySchema {
	return &domain.EntitySchema{
		Name:      Addresses,
		Table:     "endereco",
		Key:       "id_endereco",
		Generated: true,
		Columns: []domain.Column{
			{Name: "id_endereco", Type: domain.TypeString},
			{Name: "cd_contribuinte", Type: domain.TypeInteger, Required: true},
			{Name: "logradouro", Type: domain.TypeString, Text: true, Required: true},
			{Name: "municipio", Type: domain.TypeString, Text: true, Required: true},
			{Name: "uf", Type: domain.TypeString},
		},
	}
}

// InvoiceSchema describes danfes.
func InvoiceSchema() *domain.EntitySchema {
	return &domain.EntitySchema{
		Name:      Invoices,
		Table:     "danfe",
		Key:       "id_danfe",
		Generated: true,
		Columns: []domain.Column{
			{Name: "id_danfe", Type: domain.TypeString},
			{Name: "cd_contribuinte", Type: domain.TypeInteger, Required: true},
			{Name: "numero", Type: domain.TypeString, Required: true},
			{Name: "valor_total", Type: domain.TypeDecimal, Range: true, Required: true},
			{Name: "data_emissao", Type: domain.TypeTimestamp, Range: true, Required: true},
		},
	}
}

// New builds the catalog of fiscal entities, applying per entity text
// field overrides from configuration.
func New(textFields map[string][]string) (*domain.Catalog, error) {
	c, err := domain.NewCatalog(TaxpayerSchema(), AddressSchema(), InvoiceSchema())
	if err != nil {
		return nil, err
	}
	for entity, fields := range textFields {
		if err := c.MarkText(entity, fields); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultRules are the write rules applied to fiscal entities.
func DefaultRules() []*domain.WriteRule {
	return []*domain.WriteRule{
		{
			ID:          "cnpj-format",
			Entity:      Taxpayers,
			Description: "cnpj_contribuinte must have exactly 14 digits",
			Expression:  `record.cnpj_contribuinte.matches('^[0-9]{14}$')`,
			Enabled:     true,
		},
		{
			ID:          "trade-name-present",
			Entity:      Taxpayers,
			Description: "nm_fantasia must not be blank",
			Expression:  `size(record.nm_fantasia.trim()) > 0`,
			Enabled:     true,
		},
		{
			ID:          "trade-name-length",
			Entity:      Taxpayers,
			Description: "nm_fantasia must have at most 120 characters",
			Expression:  `size(record.nm_fantasia) <= 120`,
			Enabled:     true,
		},
		{
			ID:          "uf-format",
			Entity:      Addresses,
			Description: "uf must be a two letter state code",
			Expression:  `!has(record.uf) || record.uf == null || record.uf.matches('^[A-Z]{2}$')`,
			Enabled:     true,
		},
		{
			ID:          "invoice-number-present",
			Entity:      Invoices,
			Description: "numero must not be empty",
			Expression:  `size(record.numero) > 0`,
			Enabled:     true,
		},
		{
			ID:          "invoice-total-non-negative",
			Entity:      Invoices,
			Description: "valor_total must not be negative",
			Expression:  `record.valor_total >= 0.0`,
			Enabled:     true,
		},
	}
}
