package tax

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// Compute deriva el desglose tributario completo de una factura: categoría e
// IVA, concepto y retención de renta, ReteIVA, ReteICA y el chequeo de
// tolerancia contra los montos declarados.
//
// Contrato: función pura. No muta facts, no hace I/O y nunca falla para
// hechos sintácticamente válidos (la frontera de entrada es ValidateFacts,
// responsabilidad del llamador). Toda la aritmética corre en decimal sin
// redondeos intermedios; redondear es asunto de la capa de presentación.
func Compute(facts entity.InvoiceFacts, cfg *RuleConfig) entity.TaxResult {
	var res entity.TaxResult

	// 1. Categoría del ítem e IVA.
	res.VATCategory = classifyItemCategory(cfg, facts.ItemCategoryHint, facts.FreeTextDescription)
	res.VATRate = cfg.VATRates[res.VATCategory]
	res.VATAmount = facts.BaseAmount.Mul(res.VATRate)

	// 2. Concepto de pago y retención de renta.
	res.PaymentType = classifyPaymentType(cfg, facts.FreeTextDescription)
	res.WithholdingIncome, res.IncomeRate = incomeWithholding(facts, cfg, res.PaymentType)

	// 3. Retención de IVA.
	res.WithholdingVAT = vatWithholding(facts, cfg, res.VATAmount)

	// 4. Retención de ICA.
	res.ICAActivity = classifyICAActivity(cfg, facts.FreeTextDescription)
	res.WithholdingICA, res.ICARate = icaWithholding(facts, cfg, res.ICAActivity)

	// 5. Totales.
	res.TotalWithholdings = res.WithholdingIncome.Add(res.WithholdingVAT).Add(res.WithholdingICA)
	res.NetAmount = facts.TotalAmount.Sub(res.TotalWithholdings)

	// 6. Chequeo de tolerancia: anota, jamás bloquea.
	res.ComplianceNote = complianceNote(facts, cfg, res.VATAmount)

	return res
}

// incomeWithholding aplica la regla de ReteFuente del concepto clasificado.
// Solo los compradores del régimen común retienen; el umbral en UVT es
// inclusivo y el escalón superior (si la regla lo define) desplaza la tarifa.
func incomeWithholding(facts entity.InvoiceFacts, cfg *RuleConfig, paymentType string) (decimal.Decimal, decimal.Decimal) {
	if facts.BuyerRegime != fiscal.RegimeCommon {
		return decimal.Zero, decimal.Zero
	}
	rule := cfg.Income[paymentType]

	threshold := rule.ThresholdUVT.Mul(cfg.UVTValue)
	if facts.BaseAmount.LessThan(threshold) {
		return decimal.Zero, decimal.Zero
	}

	rate := rule.Rate
	if !rule.RateSimplified.IsZero() && facts.SellerRegime != fiscal.RegimeCommon {
		rate = rule.RateSimplified
	}
	if !rule.TierThresholdUVT.IsZero() {
		tier := rule.TierThresholdUVT.Mul(cfg.UVTValue)
		if facts.BaseAmount.GreaterThanOrEqual(tier) {
			rate = rule.TierRate
		}
	}
	return facts.BaseAmount.Mul(rate), rate
}

// vatWithholding aplica ReteIVA: comprador común, IVA positivo y base sobre
// el umbral. La tarifa se toma de la tabla por régimen del comprador.
func vatWithholding(facts entity.InvoiceFacts, cfg *RuleConfig, vatAmount decimal.Decimal) decimal.Decimal {
	if facts.BuyerRegime != fiscal.RegimeCommon || !vatAmount.IsPositive() {
		return decimal.Zero
	}
	threshold := cfg.ReteIVA.ThresholdUVT.Mul(cfg.UVTValue)
	if facts.BaseAmount.LessThan(threshold) {
		return decimal.Zero
	}
	return vatAmount.Mul(cfg.ReteIVA.Rates[facts.BuyerRegime])
}

// icaWithholding aplica ReteICA con la tabla del municipio del comprador.
// Operaciones dentro del mismo municipio están exentas; una ciudad sin tabla
// configurada no genera obligación.
func icaWithholding(facts entity.InvoiceFacts, cfg *RuleConfig, activity string) (decimal.Decimal, decimal.Decimal) {
	if facts.BuyerRegime != fiscal.RegimeCommon {
		return decimal.Zero, decimal.Zero
	}
	sellerCity := NormalizeText(facts.SellerCity)
	buyerCity := NormalizeText(facts.BuyerCity)
	if sellerCity == buyerCity {
		return decimal.Zero, decimal.Zero
	}
	rule, ok := cfg.ICA[buyerCity]
	if !ok {
		return decimal.Zero, decimal.Zero
	}
	threshold := rule.ThresholdUVT.Mul(cfg.UVTValue)
	if facts.BaseAmount.LessThan(threshold) {
		return decimal.Zero, decimal.Zero
	}
	rate, ok := rule.Rates[activity]
	if !ok {
		rate = rule.Rates[fiscal.ICAActivityCommerce]
	}
	return facts.BaseAmount.Mul(rate), rate
}

// complianceNote recalcula IVA y total esperados desde la base y los compara
// contra lo declarado en la factura original, con tolerancia en pesos.
func complianceNote(facts entity.InvoiceFacts, cfg *RuleConfig, expectedVAT decimal.Decimal) string {
	expectedTotal := facts.BaseAmount.Add(expectedVAT)

	vatDelta := facts.DeclaredTaxAmount.Sub(expectedVAT).Abs()
	totalDelta := facts.TotalAmount.Sub(expectedTotal).Abs()

	switch {
	case vatDelta.GreaterThan(cfg.ToleranceAmount):
		return fmt.Sprintf("%s IVA declarado (%s) difiere del calculado (%s) por %s",
			entity.ComplianceWarningPrefix,
			facts.DeclaredTaxAmount.StringFixed(2), expectedVAT.StringFixed(2), vatDelta.StringFixed(2))
	case totalDelta.GreaterThan(cfg.ToleranceAmount):
		return fmt.Sprintf("%s total declarado (%s) difiere del esperado (%s) por %s",
			entity.ComplianceWarningPrefix,
			facts.TotalAmount.StringFixed(2), expectedTotal.StringFixed(2), totalDelta.StringFixed(2))
	default:
		return entity.ComplianceNoteOK
	}
}
