package entity

import "github.com/shopspring/decimal"

// Notas de cumplimiento del desglose tributario.
const (
	// ComplianceNoteOK los montos declarados coinciden con los calculados
	// dentro de la tolerancia configurada.
	ComplianceNoteOK = "COMPLIANT"
	// ComplianceWarningPrefix prefijo de toda nota de advertencia; el resto
	// del texto describe la desviación y su delta numérico.
	ComplianceWarningPrefix = "WARNING:"
)

// TaxResult es el desglose tributario de una factura: IVA, las tres
// retenciones en la fuente y el neto a pagar. Completamente determinado por
// InvoiceFacts + RuleConfig; cada campo es trazable a una regla concreta
// (categoría, concepto y actividad aplicados quedan en el resultado).
type TaxResult struct {
	VATAmount   decimal.Decimal `json:"vat_amount"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	VATCategory string          `json:"vat_category"`

	WithholdingIncome decimal.Decimal `json:"withholding_income"`
	WithholdingVAT    decimal.Decimal `json:"withholding_vat"`
	WithholdingICA    decimal.Decimal `json:"withholding_ica"`

	TotalWithholdings decimal.Decimal `json:"total_withholdings"`
	NetAmount         decimal.Decimal `json:"net_amount"`

	// Trazabilidad: regla aplicada en cada retención.
	PaymentType    string          `json:"payment_type"` // concepto ReteFuente
	IncomeRate     decimal.Decimal `json:"income_rate"`  // tarifa renta aplicada
	ICAActivity    string          `json:"ica_activity"` // actividad clasificada
	ICARate        decimal.Decimal `json:"ica_rate"`     // tarifa aplicada (fracción)
	ComplianceNote string          `json:"compliance_note"`
}

// IsCompliant indica si los montos declarados pasaron el chequeo de tolerancia.
func (r TaxResult) IsCompliant() bool {
	return r.ComplianceNote == ComplianceNoteOK
}
