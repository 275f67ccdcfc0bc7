package tax

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// NormalizeText lleva un texto a minúsculas sin tildes ni diacríticos, para
// que "Asesoría Jurídica" y "asesoria juridica" clasifiquen igual. Las
// descripciones de factura llegan con ortografía inconsistente del extractor.
func NormalizeText(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	// El transformador encadenado tiene buffers internos; se construye por
	// llamada para mantener la clasificación segura bajo concurrencia.
	chain := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(chain, lower)
	if err != nil {
		return lower
	}
	return folded
}

// classify escanea el texto contra las reglas en orden y devuelve la
// categoría de la primera palabra clave que coincida. El orden de reglas y
// palabras se respeta exactamente como quedó configurado; def es la categoría
// de cierre cuando nada coincide.
func classify(rules []KeywordRule, normalizedText, def string) string {
	for _, rule := range rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(normalizedText, NormalizeText(kw)) {
				return rule.Category
			}
		}
	}
	return def
}

// classifyItemCategory clasifica el ítem para IVA. La pista estructurada del
// extractor (si existe) participa en el escaneo junto a la descripción libre.
func classifyItemCategory(cfg *RuleConfig, hint, description string) string {
	text := NormalizeText(hint + " " + description)
	return classify(cfg.ItemCategories, text, fiscal.VATCategoryGeneral)
}

// classifyPaymentType clasifica el concepto de pago para ReteFuente.
func classifyPaymentType(cfg *RuleConfig, description string) string {
	return classify(cfg.PaymentTypes, NormalizeText(description), fiscal.PaymentTypeGeneralServices)
}

// classifyICAActivity clasifica la actividad del vendedor para ICA;
// comercio es la actividad residual.
func classifyICAActivity(cfg *RuleConfig, description string) string {
	return classify(cfg.ICAActivities, NormalizeText(description), fiscal.ICAActivityCommerce)
}
