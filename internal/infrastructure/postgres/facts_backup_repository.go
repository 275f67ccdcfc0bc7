package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.FactsBackupStore = (*FactsBackupRepo)(nil)

// FactsBackupRepo implementación de FactsBackupStore sobre una tabla con los
// hechos serializados en JSONB. El gestor nunca conoce este formato.
type FactsBackupRepo struct {
	q Querier
}

// NewFactsBackupRepository construye el adaptador. Pasar pool o tx (Querier).
func NewFactsBackupRepository(q Querier) *FactsBackupRepo {
	return &FactsBackupRepo{q: q}
}

// Save inserta o reemplaza el respaldo de los hechos de una factura.
func (r *FactsBackupRepo) Save(ctx context.Context, backup *entity.FactsBackup) error {
	raw, err := json.Marshal(backup.Facts)
	if err != nil {
		return fmt.Errorf("serializar hechos: %w", err)
	}
	query := `
		INSERT INTO facts_backups (invoice_id, facts, backup_created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (invoice_id) DO UPDATE SET facts = EXCLUDED.facts`
	if _, err := r.q.Exec(ctx, query, backup.InvoiceID, raw, backup.BackupCreatedAt); err != nil {
		return fmt.Errorf("insert facts backup: %w", err)
	}
	return nil
}

// Get obtiene el respaldo por invoice_id. (nil, nil) si no existe.
func (r *FactsBackupRepo) Get(ctx context.Context, invoiceID string) (*entity.FactsBackup, error) {
	var backup entity.FactsBackup
	var raw []byte
	err := r.q.QueryRow(ctx,
		`SELECT invoice_id, facts, backup_created_at FROM facts_backups WHERE invoice_id = $1`,
		invoiceID,
	).Scan(&backup.InvoiceID, &raw, &backup.BackupCreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get facts backup: %w", err)
	}
	if err := json.Unmarshal(raw, &backup.Facts); err != nil {
		return nil, fmt.Errorf("deserializar hechos: %w", err)
	}
	return &backup, nil
}

// Delete borra el respaldo; borrar un ID inexistente no es error (la purga
// es idempotente).
func (r *FactsBackupRepo) Delete(ctx context.Context, invoiceID string) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM facts_backups WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete facts backup: %w", err)
	}
	return nil
}
