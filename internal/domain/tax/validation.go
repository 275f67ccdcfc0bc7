package tax

import (
	"errors"
	"fmt"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/pkg/fiscal"
)

// ValidateFacts es la frontera de entrada al motor: rechaza hechos
// malformados antes de Compute, que por contrato nunca falla. Acumula todos
// los problemas en un solo error para que el operador corrija de una vez.
func ValidateFacts(facts *entity.InvoiceFacts) error {
	if facts == nil {
		return fmt.Errorf("%w: hechos nulos", domain.ErrInvalidFacts)
	}
	var errs []error

	if facts.InvoiceNumber == "" {
		errs = append(errs, errors.New("invoice_number vacío"))
	}
	if facts.InvoiceDate.IsZero() {
		errs = append(errs, errors.New("invoice_date sin valor"))
	}
	if facts.BaseAmount.IsNegative() {
		errs = append(errs, fmt.Errorf("base_amount negativo: %s", facts.BaseAmount))
	}
	if facts.TotalAmount.LessThan(facts.BaseAmount) {
		errs = append(errs, fmt.Errorf("total_amount (%s) menor que base_amount (%s)",
			facts.TotalAmount, facts.BaseAmount))
	}
	if facts.DeclaredTaxAmount.IsNegative() {
		errs = append(errs, fmt.Errorf("declared_tax_amount negativo: %s", facts.DeclaredTaxAmount))
	}
	if facts.DeclaredTaxRate.IsNegative() {
		errs = append(errs, fmt.Errorf("declared_tax_rate negativo: %s", facts.DeclaredTaxRate))
	}

	if !fiscal.ValidRegimes[facts.SellerRegime] {
		errs = append(errs, fmt.Errorf("seller_regime desconocido: %q", facts.SellerRegime))
	}
	if !fiscal.ValidRegimes[facts.BuyerRegime] {
		errs = append(errs, fmt.Errorf("buyer_regime desconocido: %q", facts.BuyerRegime))
	}

	if facts.SellerTaxID == "" {
		errs = append(errs, errors.New("seller_tax_id vacío"))
	} else if err := fiscal.ValidateNITVerificationDigit(facts.SellerTaxID); err != nil {
		errs = append(errs, fmt.Errorf("seller_tax_id: %w", err))
	}
	if facts.BuyerTaxID == "" {
		errs = append(errs, errors.New("buyer_tax_id vacío"))
	} else if err := fiscal.ValidateNITVerificationDigit(facts.BuyerTaxID); err != nil {
		errs = append(errs, fmt.Errorf("buyer_tax_id: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvalidFacts}, errs...)...)
	}
	return nil
}
