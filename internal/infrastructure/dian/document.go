package dian

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// nonDigit elimina todo carácter que no sea dígito (útil para NIT).
var nonDigit = regexp.MustCompile(`[^0-9]`)

// BuildFiscalDocument construye el XML del documento fiscal que se somete a
// validación: identidad de la factura, partes, montos y el desglose calculado.
// No es un UBL completo (la factura ya existe en el emisor); es el documento
// de verificación que el WS contrasta contra sus reglas.
func BuildFiscalDocument(invoiceID string, facts *entity.InvoiceFacts, softwareID string) ([]byte, error) {
	if facts == nil {
		return nil, fmt.Errorf("dian: hechos nulos para %s", invoiceID)
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("FiscalValidationRequest")
	root.CreateAttr("xmlns", "dian:gov:co:validacionfiscal:v1")
	if softwareID != "" {
		root.CreateAttr("softwareID", softwareID)
	}

	root.CreateElement("InvoiceID").SetText(invoiceID)
	root.CreateElement("InvoiceNumber").SetText(facts.InvoiceNumber)
	root.CreateElement("IssueDate").SetText(facts.InvoiceDate.Format("2006-01-02"))

	seller := root.CreateElement("Seller")
	seller.CreateElement("TaxID").SetText(facts.SellerTaxID)
	seller.CreateElement("Regime").SetText(facts.SellerRegime)
	seller.CreateElement("City").SetText(facts.SellerCity)

	buyer := root.CreateElement("Buyer")
	buyer.CreateElement("TaxID").SetText(facts.BuyerTaxID)
	buyer.CreateElement("Regime").SetText(facts.BuyerRegime)
	buyer.CreateElement("City").SetText(facts.BuyerCity)

	amounts := root.CreateElement("Amounts")
	amounts.CreateElement("BaseAmount").SetText(facts.BaseAmount.StringFixed(2))
	amounts.CreateElement("DeclaredTaxAmount").SetText(facts.DeclaredTaxAmount.StringFixed(2))
	amounts.CreateElement("TotalAmount").SetText(facts.TotalAmount.StringFixed(2))

	root.CreateElement("Description").SetText(facts.FreeTextDescription)

	doc.Indent(2)
	return doc.WriteToBytes()
}

// CompressToZip empaqueta el documento fiscal en un ZIP en memoria. El WS
// exige un ZIP con un único archivo interno.
func CompressToZip(xmlBytes []byte, xmlFilename string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create(xmlFilename)
	if err != nil {
		return nil, fmt.Errorf("zip: crear entrada %s: %w", xmlFilename, err)
	}
	if _, err := fw.Write(xmlBytes); err != nil {
		return nil, fmt.Errorf("zip: escribir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}

// DocumentFilenames genera los nombres de archivo del XML interno y el ZIP.
// Formato: {NIT_EMISOR}{NUMERO_FACTURA} solo con dígitos del NIT, sin DV.
// Ejemplo: 900123456FV000123.xml / 900123456FV000123.zip
func DocumentFilenames(sellerTaxID, invoiceNumber string) (xmlName, zipName string) {
	nit := nonDigit.ReplaceAllString(sellerTaxID, "")
	if len(nit) > 9 {
		nit = nit[:9] // descartar dígito de verificación
	}
	number := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(invoiceNumber))
	base := nit + number
	return base + ".xml", base + ".zip"
}
