package entity

import "time"

// Estados del ciclo de validación fiscal de una factura.
// Transiciones: PENDING → {VALIDATED | RETRY}; RETRY → {VALIDATED | RETRY | FAILED}.
// VALIDATED y FAILED son terminales. No existe un estado FALLBACK: el respaldo
// de los hechos es una acción de almacenamiento, no un estado.
const (
	StatusPending   = "PENDING"
	StatusValidated = "VALIDATED"
	StatusRetry     = "RETRY"
	StatusFailed    = "FAILED"
)

// KnownStatuses estados válidos de un ComplianceRecord.
var KnownStatuses = map[string]bool{
	StatusPending:   true,
	StatusValidated: true,
	StatusRetry:     true,
	StatusFailed:    true,
}

// ComplianceRecord es el registro persistente del ciclo de validación de una
// factura ante la autoridad tributaria. Uno por factura, clave InvoiceID.
// Solo el ComplianceResilienceManager muta registros; los stores son pasivos.
type ComplianceRecord struct {
	InvoiceID       string     `json:"invoice_id"`
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"` // solo con Status = RETRY
	LastError       string     `json:"last_error,omitempty"`
	GatewayResponse string     `json:"gateway_response,omitempty"` // payload crudo del último intento
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsTerminal indica si el registro ya no admite más intentos.
func (r *ComplianceRecord) IsTerminal() bool {
	return r.Status == StatusValidated || r.Status == StatusFailed
}

// FactsBackup es el respaldo durable de los hechos originales de la factura.
// Se escribe al registrar y solo se borra en la purga por antigüedad, nunca
// por éxito o fracaso de la validación: garantiza que ninguna obligación
// fiscal se pierda en silencio.
type FactsBackup struct {
	InvoiceID       string       `json:"invoice_id"`
	Facts           InvoiceFacts `json:"facts"`
	BackupCreatedAt time.Time    `json:"backup_created_at"`
}
