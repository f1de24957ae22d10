package catalog

import (
	"time"

	"github.com/opensource-finance/notas/internal/domain"
)

// Taxpayer is a contribuinte with optional loaded relations.
type Taxpayer struct {
	Code      int64
	TradeName string
	CNPJ      string
	Addresses []Address
	Invoices  []Invoice
}

// Record implements domain.Recorder. Nil relation slices are left out.
func (t Taxpayer) Record() *domain.Record {
	r := domain.NewRecord(5).
		Set("cd_contribuinte", t.Code).
		Set("nm_fantasia", t.TradeName).
		Set("cnpj_contribuinte", t.CNPJ)
	if t.Addresses != nil {
		list := make([]*domain.Record, len(t.Addresses))
		for i, a := range t.Addresses {
			list[i] = a.Record()
		}
		r.Set(Addresses, list)
	}
	if t.Invoices != nil {
		list := make([]*domain.Record, len(t.Invoices))
		for i, inv := range t.Invoices {
			list[i] = inv.Record()
		}
		r.Set(Invoices, list)
	}
	return r
}

// Address is an endereco.
type Address struct {
	ID           string
	TaxpayerCode int64
	Street       string
	City         string
	State        string
}

// Record implements domain.Recorder.
func (a Address) Record() *domain.Record {
	r := domain.NewRecord(5)
	if a.ID != "" {
		r.Set("id_endereco", a.ID)
	}
	r.Set("cd_contribuinte", a.TaxpayerCode).
		Set("logradouro", a.Street).
		Set("municipio", a.City)
	if a.State != "" {
		r.Set("uf", a.State)
	}
	return r
}

// Invoice is a danfe.
type Invoice struct {
	ID           string
	TaxpayerCode int64
	Number       string
	Total        float64
	IssuedAt     time.Time
}

// Record implements domain.Recorder.
func (i Invoice) Record() *domain.Record {
	r := domain.NewRecord(5)
	if i.ID != "" {
		r.Set("id_danfe", i.ID)
	}
	return r.Set("cd_contribuinte", i.TaxpayerCode).
		Set("numero", i.Number).
		Set("valor_total", i.Total).
		Set("data_emissao", i.IssuedAt.UTC())
}
