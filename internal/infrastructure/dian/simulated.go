package dian

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jhoicas/fiscal-api/internal/application/compliance"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

var _ compliance.ValidationGateway = (*SimulatedGateway)(nil)

// SimulatedGateway pasarela del modo dev: genera el documento fiscal real
// (para detectar hechos imposibles de serializar) pero no invoca el WS y
// acepta todo con un track simulado.
type SimulatedGateway struct {
	softwareID string
}

// NewSimulatedGateway construye la pasarela simulada.
func NewSimulatedGateway(softwareID string) *SimulatedGateway {
	return &SimulatedGateway{softwareID: softwareID}
}

// Validate simula una aceptación inmediata.
func (g *SimulatedGateway) Validate(_ context.Context, invoiceID string, facts *entity.InvoiceFacts) (*compliance.ValidationOutcome, error) {
	xmlBytes, err := BuildFiscalDocument(invoiceID, facts, g.softwareID)
	if err != nil {
		return nil, err
	}
	ref := "MOCK-" + uuid.New().String()
	return &compliance.ValidationOutcome{
		Accepted:      true,
		ReferenceCode: ref,
		RawResponse:   fmt.Sprintf(`{"simulated":true,"track_id":%q,"document_bytes":%d}`, ref, len(xmlBytes)),
	}, nil
}
