package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceFacts son los hechos económicos de una factura comercial ya
// extraídos y normalizados: la entrada inmutable del motor de impuestos.
// Los montos declarados (DeclaredTaxAmount, TotalAmount) vienen tal cual del
// documento original y se contrastan contra lo calculado.
type InvoiceFacts struct {
	InvoiceNumber     string          `json:"invoice_number"`
	InvoiceDate       time.Time       `json:"invoice_date"`
	BaseAmount        decimal.Decimal `json:"base_amount"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DeclaredTaxAmount decimal.Decimal `json:"declared_tax_amount"`
	DeclaredTaxRate   decimal.Decimal `json:"declared_tax_rate"`

	// Clasificación del ítem: pista estructurada (si el extractor la dio) y
	// descripción libre sobre la que corre el escaneo de palabras clave.
	ItemCategoryHint    string `json:"item_category_hint,omitempty"`
	FreeTextDescription string `json:"free_text_description"`

	SellerTaxID  string `json:"seller_tax_id"`
	SellerRegime string `json:"seller_regime"` // common | simplified
	SellerCity   string `json:"seller_city"`

	BuyerTaxID  string `json:"buyer_tax_id"`
	BuyerRegime string `json:"buyer_regime"` // common | simplified
	BuyerCity   string `json:"buyer_city"`
}
