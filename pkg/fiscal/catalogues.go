// Package fiscal contiene los catálogos tributarios colombianos vigentes
// (DIAN 2025): valor de la UVT, tarifas de IVA, conceptos de retención en la
// fuente, ReteIVA y tablas municipales de ICA. Las reglas ejecutables viven en
// internal/domain/tax; aquí solo hay valores de referencia.
package fiscal

import "github.com/shopspring/decimal"

// =============================================================================
// UVT — Unidad de Valor Tributario (Art. 868 E.T., resolución anual DIAN)
// =============================================================================

// UVTByYear valores históricos de la UVT en pesos colombianos.
var UVTByYear = map[int]decimal.Decimal{
	2023: decimal.NewFromInt(42412),
	2024: decimal.NewFromInt(47065),
	2025: decimal.NewFromInt(49799),
}

// UVT2025 valor vigente de la UVT (Resolución DIAN 000193 de 2024).
var UVT2025 = UVTByYear[2025]

// =============================================================================
// Régimen del contribuyente (responsabilidad frente al IVA)
// =============================================================================

const (
	// RegimeCommon régimen común / responsable de IVA (O-48). Solo los
	// compradores de este régimen actúan como agentes de retención.
	RegimeCommon = "common"
	// RegimeSimplified régimen simplificado / no responsable de IVA (O-49).
	RegimeSimplified = "simplified"
)

// ValidRegimes regímenes aceptados en InvoiceFacts.
var ValidRegimes = map[string]bool{
	RegimeCommon:     true,
	RegimeSimplified: true,
}

// =============================================================================
// IVA — categorías de bienes/servicios (Art. 468, 468-1 y 477 E.T.)
// =============================================================================

const (
	VATCategoryGeneral = "general" // Tarifa general 19%
	VATCategoryReduced = "reduced" // Tarifa reducida 5% (ej. concentrados para mascotas)
	VATCategoryExempt  = "exempt"  // Exentos/excluidos 0% (canasta básica)
)

// DefaultVATRates tarifas de IVA por categoría, vigencia 2025.
var DefaultVATRates = map[string]decimal.Decimal{
	VATCategoryGeneral: decimal.RequireFromString("0.19"),
	VATCategoryReduced: decimal.RequireFromString("0.05"),
	VATCategoryExempt:  decimal.Zero,
}

// =============================================================================
// ReteFuente — conceptos de retención en la fuente a título de renta
// (Art. 383 y ss. E.T., Decreto 1625 de 2016)
// =============================================================================

const (
	PaymentTypeFees            = "fees"             // Honorarios y comisiones
	PaymentTypeRent            = "rent"             // Arrendamientos
	PaymentTypeGoodsPurchase   = "goods_purchase"   // Compras de bienes
	PaymentTypeGeneralServices = "general_services" // Servicios en general
)

// =============================================================================
// ICA — actividades gravadas (clasificación CIIU agrupada)
// =============================================================================

const (
	ICAActivityIndustry = "industry"
	ICAActivityServices = "services"
	ICAActivityCommerce = "commerce"
)

// ValidICAActivities actividades reconocidas en las tablas municipales.
var ValidICAActivities = map[string]bool{
	ICAActivityIndustry: true,
	ICAActivityServices: true,
	ICAActivityCommerce: true,
}

// ReteIVAStandardRate tarifa estándar de retención de IVA (15% del IVA
// facturado, Art. 437-1 E.T.) aplicada por compradores del régimen común.
var ReteIVAStandardRate = decimal.RequireFromString("0.15")
