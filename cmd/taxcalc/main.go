// taxcalc calcula el desglose tributario de una factura desde la terminal.
// Recibe un archivo JSON con los hechos de la factura y escribe el resultado
// en stdout; útil para verificar vigencias de reglas sin levantar el worker.
//
// Uso:
//
//	taxcalc hechos.json
//	TAX_RULES_PATH=reglas_2026.json taxcalc hechos.json
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/tax"
)

// Factores de presentación: tarifas internas en fracción, impresas en % y por mil.
var (
	cien = decimal.NewFromInt(100)
	mil  = decimal.NewFromInt(1000)
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "uso: taxcalc <hechos.json>")
		os.Exit(2)
	}

	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(factsPath string) error {
	raw, err := os.ReadFile(factsPath)
	if err != nil {
		return fmt.Errorf("leer hechos: %w", err)
	}

	var facts entity.InvoiceFacts
	if err := json.Unmarshal(raw, &facts); err != nil {
		return fmt.Errorf("parsear hechos: %w", err)
	}

	if err := tax.ValidateFacts(&facts); err != nil {
		return err
	}

	rules := tax.DefaultConfig()
	if path := os.Getenv("TAX_RULES_PATH"); path != "" {
		rules, err = tax.LoadFromFile(path)
		if err != nil {
			return fmt.Errorf("cargar reglas: %w", err)
		}
	}

	result := tax.Compute(facts, rules)
	printResult(facts, result, rules.Version)
	return nil
}

func printResult(facts entity.InvoiceFacts, r entity.TaxResult, rulesVersion string) {
	fmt.Printf("Factura %s  (reglas %s)\n", facts.InvoiceNumber, rulesVersion)
	fmt.Printf("  Base gravable:        $ %s\n", facts.BaseAmount.StringFixed(2))
	fmt.Printf("  IVA (%s, %s%%):  $ %s\n",
		r.VATCategory, r.VATRate.Mul(cien).StringFixed(1), r.VATAmount.StringFixed(2))
	fmt.Println()
	fmt.Printf("  ReteFuente (%s, %s%%): $ %s\n",
		r.PaymentType, r.IncomeRate.Mul(cien).StringFixed(2), r.WithholdingIncome.StringFixed(2))
	fmt.Printf("  ReteIVA:              $ %s\n", r.WithholdingVAT.StringFixed(2))
	fmt.Printf("  ReteICA (%s, %s por mil): $ %s\n",
		r.ICAActivity, r.ICARate.Mul(mil).StringFixed(3), r.WithholdingICA.StringFixed(2))
	fmt.Printf("  Total retenciones:    $ %s\n", r.TotalWithholdings.StringFixed(2))
	fmt.Println()
	fmt.Printf("  Neto a pagar:         $ %s\n", r.NetAmount.StringFixed(2))
	fmt.Printf("  Cumplimiento:         %s\n", r.ComplianceNote)
}
