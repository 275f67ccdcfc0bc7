// Package dian implementa la pasarela de validación fiscal contra el WS SOAP
// de la DIAN. El gestor de resiliencia la consume como puerto
// (compliance.ValidationGateway); aquí vive todo el detalle de transporte.
package dian

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jhoicas/fiscal-api/internal/application/compliance"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	// AppEnvTest es el identificador de ambiente de habilitación/pruebas DIAN.
	AppEnvTest = "test"
	// AppEnvProd es el identificador de ambiente de producción DIAN.
	AppEnvProd = "prod"
	// AppEnvDev es el identificador local: no invoca el WS, simula aceptación.
	AppEnvDev = "dev"

	soapURLTest = "https://vpfe-hab.dian.gov.co/WcfDianCustomerServices.svc"
	soapURLProd = "https://vpfe.dian.gov.co/WcfDianCustomerServices.svc"

	soapNS         = "http://schemas.xmlsoap.org/soap/envelope/"
	soapNSTempuri  = "http://tempuri.org/"
	soapActionBase = "http://tempuri.org/IWcfDianCustomerServices/"
)

var _ compliance.ValidationGateway = (*SOAPGateway)(nil)

// SOAPGateway implementa ValidationGateway usando el WS SOAP de la DIAN.
// Usa net/http de la stdlib; el timeout por intento lo impone el gestor vía
// contexto, y el cliente lleva un tope propio generoso por si el llamador no
// lo hace.
type SOAPGateway struct {
	httpClient *http.Client
	env        string // "test" | "prod"
	softwareID string
	// baseURL sobreescribe el endpoint (solo tests).
	baseURL string
}

// NewSOAPGateway construye la pasarela para el ambiente dado.
func NewSOAPGateway(env, softwareID string) (*SOAPGateway, error) {
	if env != AppEnvTest && env != AppEnvProd {
		return nil, fmt.Errorf("dian: entorno desconocido %q (usar 'test' o 'prod')", env)
	}
	return &SOAPGateway{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		env:        env,
		softwareID: softwareID,
	}, nil
}

// NewSOAPGatewayWithURL variante para tests con endpoint propio.
func NewSOAPGatewayWithURL(env, softwareID, baseURL string) (*SOAPGateway, error) {
	g, err := NewSOAPGateway(env, softwareID)
	if err != nil {
		return nil, err
	}
	g.baseURL = baseURL
	return g, nil
}

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name   `xml:"s:Envelope"`
	XmlnsS  string     `xml:"xmlns:s,attr"`
	Header  soapHeader `xml:"s:Header"`
	Body    soapBody   `xml:"s:Body"`
}

type soapHeader struct{}

type soapBody struct {
	Content interface{}
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name.Local = "s:Body"
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

// sendBillSyncBody cuerpo de la operación SendBillSync: entrega el documento
// y recibe el veredicto de validación en la misma llamada.
type sendBillSyncBody struct {
	XMLName     xml.Name `xml:"SendBillSync"`
	Xmlns       string   `xml:"xmlns,attr"`
	FileName    string   `xml:"fileName"`
	ContentFile string   `xml:"contentFile"` // ZIP en Base64
}

// ── Estructuras de respuesta SOAP ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBillSyncResponse *sendBillSyncResponse `xml:"SendBillSyncResponse"`
	Fault                *soapFault            `xml:"Fault"`
}

type sendBillSyncResponse struct {
	Result sendBillSyncResult `xml:"SendBillSyncResult"`
}

type sendBillSyncResult struct {
	IsValid           bool     `xml:"IsValid"`
	StatusCode        string   `xml:"StatusCode"`
	StatusDescription string   `xml:"StatusDescription"`
	ErrorMessageList  []string `xml:"ErrorMessage>string"`
	XmlDocumentKey    string   `xml:"XmlDocumentKey"`
}

type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
}

// ── Validate ──────────────────────────────────────────────────────────────────

// Validate arma el documento fiscal, lo empaqueta y lo somete al WS. Un error
// devuelto es siempre de transporte (red, timeout, HTTP no-2xx); los rechazos
// de contenido llegan como outcome con Accepted=false.
func (g *SOAPGateway) Validate(ctx context.Context, invoiceID string, facts *entity.InvoiceFacts) (*compliance.ValidationOutcome, error) {
	xmlBytes, err := BuildFiscalDocument(invoiceID, facts, g.softwareID)
	if err != nil {
		return nil, fmt.Errorf("dian: construir documento: %w", err)
	}
	xmlName, zipName := DocumentFilenames(facts.SellerTaxID, facts.InvoiceNumber)
	zipBytes, err := CompressToZip(xmlBytes, xmlName)
	if err != nil {
		return nil, fmt.Errorf("dian: empaquetar documento: %w", err)
	}

	envelope := soapEnvelope{
		XmlnsS: soapNS,
		Body: soapBody{Content: &sendBillSyncBody{
			Xmlns:       soapNSTempuri,
			FileName:    zipName,
			ContentFile: base64.StdEncoding.EncodeToString(zipBytes),
		}},
	}
	xmlPayload, err := xml.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("soap: serializar envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(),
		bytes.NewReader(xmlPayload))
	if err != nil {
		return nil, fmt.Errorf("soap: crear request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapActionBase+"SendBillSync")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("soap: timeout o cancelación: %w", ctx.Err())
		}
		return nil, fmt.Errorf("soap: llamada HTTP fallida: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // max 1 MB
	if err != nil {
		return nil, fmt.Errorf("soap: leer respuesta: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("soap: HTTP %d del WS DIAN", resp.StatusCode)
	}

	return parseResponse(rawBody), nil
}

func (g *SOAPGateway) endpoint() string {
	if g.baseURL != "" {
		return g.baseURL
	}
	if g.env == AppEnvProd {
		return soapURLProd
	}
	return soapURLTest
}

// parseResponse desempaqueta la respuesta SOAP. Una respuesta que no se deja
// parsear se trata como rechazo con el raw adjunto, no como error de
// transporte: el WS sí respondió.
func parseResponse(rawBody []byte) *compliance.ValidationOutcome {
	var envResp soapResponseEnvelope
	if err := xml.Unmarshal(rawBody, &envResp); err != nil {
		return &compliance.ValidationOutcome{
			Accepted:    false,
			RawResponse: string(rawBody),
			Errors:      fmt.Sprintf("no se pudo parsear respuesta SOAP: %v", err),
		}
	}

	// SOAP Fault (error de protocolo, autenticación, etc.)
	if envResp.Body.Fault != nil {
		return &compliance.ValidationOutcome{
			Accepted:    false,
			RawResponse: string(rawBody),
			Errors: fmt.Sprintf("SOAP Fault [%s]: %s",
				envResp.Body.Fault.FaultCode, envResp.Body.Fault.FaultString),
		}
	}

	if envResp.Body.SendBillSyncResponse == nil {
		return &compliance.ValidationOutcome{
			Accepted:    false,
			RawResponse: string(rawBody),
			Errors:      "respuesta SOAP vacía o inesperada",
		}
	}

	result := envResp.Body.SendBillSyncResponse.Result
	errMsg := strings.Join(result.ErrorMessageList, "; ")
	if !result.IsValid && errMsg == "" {
		errMsg = result.StatusDescription
	}
	return &compliance.ValidationOutcome{
		Accepted:      result.IsValid,
		ReferenceCode: result.XmlDocumentKey,
		RawResponse:   string(rawBody),
		Errors:        errMsg,
	}
}
