package catalog

import "time"

// Sample returns a small data set for local development.
func Sample() []Taxpayer {
	day := func(d int) time.Time { return time.Date(2024, time.March, d, 10, 0, 0, 0, time.UTC) }
	return []Taxpayer{
		{
			Code: 1001, TradeName: "Padaria Pão Quente", CNPJ: "12345678000190",
			Addresses: []Address{{Street: "Rua das Flores, 100", City: "Recife", State: "PE"}},
			Invoices: []Invoice{
				{Number: "000001", Total: 152.30, IssuedAt: day(1)},
				{Number: "000002", Total: 89.90, IssuedAt: day(4)},
			},
		},
		{
			Code: 1002, TradeName: "Mercado Bom Preço", CNPJ: "98765432000155",
			Addresses: []Address{
				{Street: "Av. Boa Viagem, 2000", City: "Recife", State: "PE"},
				{Street: "Rua do Sol, 45", City: "Olinda", State: "PE"},
			},
			Invoices: []Invoice{{Number: "000101", Total: 1250.00, IssuedAt: day(2)}},
		},
		{
			Code: 1003, TradeName: "Farmácia Central", CNPJ: "11222333000181",
			Addresses: []Address{{Street: "Praça da Sé, 12", City: "São Paulo", State: "SP"}},
			Invoices: []Invoice{
				{Number: "A-0001", Total: 47.15, IssuedAt: day(3)},
				{Number: "A-0002", Total: 310.00, IssuedAt: day(5)},
				{Number: "A-0003", Total: 12.50, IssuedAt: day(7)},
			},
		},
	}
}
