package repository

import (
	"context"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// ComplianceRecordStore define el puerto de persistencia de los registros de
// cumplimiento. Es una frontera pasiva: cero lógica de negocio; el
// ComplianceResilienceManager es el único dueño de las mutaciones.
// Convención: Get devuelve (nil, nil) cuando el registro no existe.
type ComplianceRecordStore interface {
	Create(ctx context.Context, record *entity.ComplianceRecord) error
	Get(ctx context.Context, invoiceID string) (*entity.ComplianceRecord, error)
	Update(ctx context.Context, record *entity.ComplianceRecord) error
	// ListByStatus devuelve todos los registros en un estado dado.
	ListByStatus(ctx context.Context, status string) ([]*entity.ComplianceRecord, error)
	// ListRetryDue devuelve los registros en RETRY con next_retry_at <= now.
	ListRetryDue(ctx context.Context, now time.Time) ([]*entity.ComplianceRecord, error)
	// CountByStatus devuelve el conteo de registros por estado (reporte diario).
	CountByStatus(ctx context.Context) (map[string]int, error)
	// ListCreatedBefore devuelve los IDs de registros con created_at anterior
	// al corte, sin importar su estado. El gestor purga uno a uno bajo su
	// candado por factura y re-verifica la antigüedad antes de borrar.
	ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// Delete borra un registro y sus índices. Idempotente.
	Delete(ctx context.Context, invoiceID string) error
}

// FactsBackupStore define el puerto del respaldo durable de hechos; misma
// clave (invoice_id) que el registro. Convención: Get devuelve (nil, nil) si
// no existe.
type FactsBackupStore interface {
	Save(ctx context.Context, backup *entity.FactsBackup) error
	Get(ctx context.Context, invoiceID string) (*entity.FactsBackup, error)
	Delete(ctx context.Context, invoiceID string) error
}
