// Package tax implementa el motor de cómputo tributario (IVA, ReteFuente,
// ReteIVA y ReteICA) para facturas comerciales bajo reglas DIAN. El motor es
// una función pura sobre InvoiceFacts + RuleConfig: sin I/O, sin estado
// compartido, sin constantes fiscales embebidas en la lógica.
package tax

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// KeywordRule asocia una categoría a un conjunto ordenado de palabras clave.
// El orden de las reglas y de sus palabras importa: gana la primera
// coincidencia, exactamente como quedó configurado.
type KeywordRule struct {
	Category string   `json:"category"`
	Keywords []string `json:"keywords"`
}

// WithholdingRule regla de retención en la fuente a título de renta para un
// concepto de pago. Los umbrales se expresan en UVT y la comparación contra la
// base es inclusiva (base >= umbral * UVT).
type WithholdingRule struct {
	ThresholdUVT decimal.Decimal `json:"threshold_uvt"`
	// Rate tarifa cuando el vendedor pertenece al régimen común (declarante).
	Rate decimal.Decimal `json:"rate"`
	// RateSimplified tarifa cuando el vendedor es simplificado; cero = usar Rate.
	RateSimplified decimal.Decimal `json:"rate_simplified,omitempty"`
	// TierThresholdUVT escalón superior (ej. honorarios: sube de tarifa desde
	// 27 UVT); cero = concepto de tarifa única.
	TierThresholdUVT decimal.Decimal `json:"tier_threshold_uvt,omitempty"`
	TierRate         decimal.Decimal `json:"tier_rate,omitempty"`
}

// ReteIVARule regla de retención de IVA aplicada por compradores agentes de
// retención. La tarifa depende del régimen del comprador.
type ReteIVARule struct {
	ThresholdUVT decimal.Decimal            `json:"threshold_uvt"`
	Rates        map[string]decimal.Decimal `json:"rates"` // régimen comprador -> tarifa sobre el IVA
}

// CityICARule tabla municipal de ICA: umbral en UVT y tarifa (fracción, no por
// mil) por actividad gravada.
type CityICARule struct {
	ThresholdUVT decimal.Decimal            `json:"threshold_uvt"`
	Rates        map[string]decimal.Decimal `json:"rates"` // actividad -> tarifa
}

// RuleConfig es la tabla versionada de reglas tributarias. Inmutable después
// de Validate; el motor no la modifica jamás. Varias vigencias pueden
// coexistir en el mismo proceso (nunca es un singleton).
type RuleConfig struct {
	Version         string          `json:"version"`
	UVTValue        decimal.Decimal `json:"uvt_value"`
	ToleranceAmount decimal.Decimal `json:"tolerance_amount"`

	VATRates       map[string]decimal.Decimal `json:"vat_rates"`       // categoría -> tarifa
	ItemCategories []KeywordRule              `json:"item_categories"` // escaneo IVA, en orden
	PaymentTypes   []KeywordRule              `json:"payment_types"`   // escaneo ReteFuente, en orden

	Income  map[string]WithholdingRule `json:"income"` // concepto de pago -> regla
	ReteIVA ReteIVARule                `json:"rete_iva"`

	ICA           map[string]CityICARule `json:"ica"` // ciudad (normalizada) -> tabla
	ICAActivities []KeywordRule          `json:"ica_activities"`
}

// DefaultConfig construye la tabla vigente DIAN 2025 a partir de los
// catálogos de pkg/fiscal.
func DefaultConfig() *RuleConfig {
	pm := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }

	cfg := &RuleConfig{
		Version:         "DIAN-2025.1",
		UVTValue:        fiscal.UVT2025,
		ToleranceAmount: decimal.NewFromInt(1),
		VATRates: map[string]decimal.Decimal{
			fiscal.VATCategoryGeneral: fiscal.DefaultVATRates[fiscal.VATCategoryGeneral],
			fiscal.VATCategoryReduced: fiscal.DefaultVATRates[fiscal.VATCategoryReduced],
			fiscal.VATCategoryExempt:  fiscal.DefaultVATRates[fiscal.VATCategoryExempt],
		},
		// El orden importa: mascotas antes que canasta básica, porque
		// "alimento para perros" también contiene "alimento".
		ItemCategories: []KeywordRule{
			{Category: fiscal.VATCategoryReduced, Keywords: []string{
				"concentrado para mascotas", "alimento para perros", "alimento para gatos",
				"comida para mascotas", "mascota",
			}},
			{Category: fiscal.VATCategoryExempt, Keywords: []string{
				"arroz", "frijol", "papa", "leche", "huevo", "pan ", "panela",
				"cebolla", "tomate", "yuca", "platano",
			}},
		},
		PaymentTypes: []KeywordRule{
			{Category: fiscal.PaymentTypeFees, Keywords: []string{
				"honorarios", "consultoria", "asesoria", "servicios profesionales", "comision",
			}},
			{Category: fiscal.PaymentTypeRent, Keywords: []string{
				"arrendamiento", "arriendo", "alquiler", "canon",
			}},
			{Category: fiscal.PaymentTypeGoodsPurchase, Keywords: []string{
				"compra de bienes", "mercancia", "suministro", "materiales", "insumos", "equipos",
			}},
		},
		Income: map[string]WithholdingRule{
			// Honorarios: 10% desde 10 UVT, 11% desde 27 UVT (Art. 392 E.T.).
			fiscal.PaymentTypeFees: {
				ThresholdUVT:     decimal.NewFromInt(10),
				Rate:             pm("0.10"),
				TierThresholdUVT: decimal.NewFromInt(27),
				TierRate:         pm("0.11"),
			},
			// Arrendamiento de bienes raíces: 3.5% desde 27 UVT.
			fiscal.PaymentTypeRent: {
				ThresholdUVT: decimal.NewFromInt(27),
				Rate:         pm("0.035"),
			},
			// Compras: 2.5% declarante / 3.5% no declarante, desde 5 UVT.
			fiscal.PaymentTypeGoodsPurchase: {
				ThresholdUVT:   decimal.NewFromInt(5),
				Rate:           pm("0.025"),
				RateSimplified: pm("0.035"),
			},
			// Servicios en general: 4% declarante / 6% no declarante, desde 4 UVT.
			fiscal.PaymentTypeGeneralServices: {
				ThresholdUVT:   decimal.NewFromInt(4),
				Rate:           pm("0.04"),
				RateSimplified: pm("0.06"),
			},
		},
		ReteIVA: ReteIVARule{
			ThresholdUVT: decimal.NewFromInt(10),
			Rates: map[string]decimal.Decimal{
				fiscal.RegimeCommon:     fiscal.ReteIVAStandardRate,
				fiscal.RegimeSimplified: decimal.Zero,
			},
		},
		// Tarifas municipales por mil convertidas a fracción (acuerdos vigentes).
		ICA: map[string]CityICARule{
			"bogota": {ThresholdUVT: decimal.NewFromInt(4), Rates: map[string]decimal.Decimal{
				fiscal.ICAActivityIndustry: pm("0.00414"),
				fiscal.ICAActivityCommerce: pm("0.01104"),
				fiscal.ICAActivityServices: pm("0.00966"),
			}},
			"medellin": {ThresholdUVT: decimal.NewFromInt(4), Rates: map[string]decimal.Decimal{
				fiscal.ICAActivityIndustry: pm("0.007"),
				fiscal.ICAActivityCommerce: pm("0.010"),
				fiscal.ICAActivityServices: pm("0.010"),
			}},
			"cali": {ThresholdUVT: decimal.NewFromInt(4), Rates: map[string]decimal.Decimal{
				fiscal.ICAActivityIndustry: pm("0.0066"),
				fiscal.ICAActivityCommerce: pm("0.0099"),
				fiscal.ICAActivityServices: pm("0.0110"),
			}},
			"barranquilla": {ThresholdUVT: decimal.NewFromInt(4), Rates: map[string]decimal.Decimal{
				fiscal.ICAActivityIndustry: pm("0.0050"),
				fiscal.ICAActivityCommerce: pm("0.0096"),
				fiscal.ICAActivityServices: pm("0.0096"),
			}},
			"bucaramanga": {ThresholdUVT: decimal.NewFromInt(4), Rates: map[string]decimal.Decimal{
				fiscal.ICAActivityIndustry: pm("0.0054"),
				fiscal.ICAActivityCommerce: pm("0.0072"),
				fiscal.ICAActivityServices: pm("0.0100"),
			}},
		},
		ICAActivities: []KeywordRule{
			{Category: fiscal.ICAActivityIndustry, Keywords: []string{
				"fabricacion", "manufactura", "produccion", "ensamble",
			}},
			{Category: fiscal.ICAActivityServices, Keywords: []string{
				"servicio", "honorarios", "consultoria", "asesoria", "mantenimiento",
				"arrendamiento", "transporte",
			}},
		},
	}
	return cfg
}

// LoadFromFile lee una tabla de reglas en JSON (vigencia alternativa) y la
// valida. Las ciudades del ICA se normalizan a minúsculas sin tildes.
func LoadFromFile(path string) (*RuleConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: leer %s: %v", domain.ErrInvalidRuleConfig, path, err)
	}
	var cfg RuleConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsear %s: %v", domain.ErrInvalidRuleConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate verifica la consistencia de la tabla. Un error aquí es fatal al
// arranque: no tiene sentido procesar facturas con reglas incompletas.
func (c *RuleConfig) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRuleConfig, fmt.Sprintf(format, args...))
	}

	if !c.UVTValue.IsPositive() {
		return fail("uvt_value debe ser positivo, recibido %s", c.UVTValue)
	}
	if c.ToleranceAmount.IsNegative() {
		return fail("tolerance_amount no puede ser negativo")
	}

	for _, cat := range []string{fiscal.VATCategoryGeneral, fiscal.VATCategoryReduced, fiscal.VATCategoryExempt} {
		rate, ok := c.VATRates[cat]
		if !ok {
			return fail("falta tarifa de IVA para la categoría %q", cat)
		}
		if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fail("tarifa de IVA de %q fuera de rango: %s", cat, rate)
		}
	}
	for _, kr := range c.ItemCategories {
		if _, ok := c.VATRates[kr.Category]; !ok {
			return fail("item_categories referencia la categoría desconocida %q", kr.Category)
		}
	}

	for _, pt := range []string{fiscal.PaymentTypeFees, fiscal.PaymentTypeRent, fiscal.PaymentTypeGoodsPurchase, fiscal.PaymentTypeGeneralServices} {
		rule, ok := c.Income[pt]
		if !ok {
			return fail("falta regla de ReteFuente para el concepto %q", pt)
		}
		if rule.ThresholdUVT.IsNegative() {
			return fail("umbral UVT negativo en el concepto %q", pt)
		}
		if rule.Rate.IsNegative() || rule.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return fail("tarifa fuera de rango en el concepto %q: %s", pt, rule.Rate)
		}
		if !rule.TierThresholdUVT.IsZero() && rule.TierThresholdUVT.LessThan(rule.ThresholdUVT) {
			return fail("escalón superior menor que el umbral base en el concepto %q", pt)
		}
	}
	for _, kr := range c.PaymentTypes {
		if _, ok := c.Income[kr.Category]; !ok {
			return fail("payment_types referencia el concepto desconocido %q", kr.Category)
		}
	}

	if len(c.ReteIVA.Rates) == 0 {
		return fail("rete_iva sin tarifas por régimen")
	}
	if _, ok := c.ReteIVA.Rates[fiscal.RegimeCommon]; !ok {
		return fail("rete_iva sin tarifa para el régimen común")
	}

	if len(c.ICA) == 0 {
		return fail("tabla ICA vacía: se requiere al menos una ciudad")
	}
	normalized := make(map[string]CityICARule, len(c.ICA))
	for city, rule := range c.ICA {
		key := NormalizeText(city)
		if key == "" {
			return fail("nombre de ciudad vacío en la tabla ICA")
		}
		if rule.ThresholdUVT.IsNegative() {
			return fail("umbral UVT negativo en la ciudad %q", city)
		}
		if _, ok := rule.Rates[fiscal.ICAActivityCommerce]; !ok {
			return fail("ciudad %q sin tarifa para la actividad por defecto (commerce)", city)
		}
		for act, rate := range rule.Rates {
			if !fiscal.ValidICAActivities[act] {
				return fail("ciudad %q referencia la actividad desconocida %q", city, act)
			}
			if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
				return fail("tarifa ICA de %q/%q fuera de rango: %s", city, act, rate)
			}
		}
		normalized[key] = rule
	}
	c.ICA = normalized
	for _, kr := range c.ICAActivities {
		if !fiscal.ValidICAActivities[kr.Category] {
			return fail("ica_activities referencia la actividad desconocida %q", kr.Category)
		}
	}

	return nil
}
