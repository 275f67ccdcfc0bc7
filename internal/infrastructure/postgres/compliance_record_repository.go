package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.ComplianceRecordStore = (*ComplianceRecordRepo)(nil)

// ComplianceRecordRepo implementación de ComplianceRecordStore (usable con
// pool o tx).
type ComplianceRecordRepo struct {
	q Querier
}

// NewComplianceRecordRepository construye el adaptador. Pasar pool o tx (Querier).
func NewComplianceRecordRepository(q Querier) *ComplianceRecordRepo {
	return &ComplianceRecordRepo{q: q}
}

// Create persiste un registro nuevo; un invoice_id repetido viola la PK y se
// reporta como ErrAlreadyRegistered.
func (r *ComplianceRecordRepo) Create(ctx context.Context, rec *entity.ComplianceRecord) error {
	query := `
		INSERT INTO compliance_records (invoice_id, status, retry_count, max_retries, next_retry_at, last_error, gateway_response, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.q.Exec(ctx, query,
		rec.InvoiceID, rec.Status, rec.RetryCount, rec.MaxRetries,
		rec.NextRetryAt, nullIfEmpty(rec.LastError), nullIfEmpty(rec.GatewayResponse),
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, rec.InvoiceID)
		}
		return fmt.Errorf("insert compliance record: %w", err)
	}
	return nil
}

// Get obtiene un registro por invoice_id. (nil, nil) si no existe.
func (r *ComplianceRecordRepo) Get(ctx context.Context, invoiceID string) (*entity.ComplianceRecord, error) {
	query := `
		SELECT invoice_id, status, retry_count, max_retries, next_retry_at,
		       COALESCE(last_error, ''), COALESCE(gateway_response, ''),
		       created_at, updated_at
		FROM compliance_records WHERE invoice_id = $1`
	var rec entity.ComplianceRecord
	err := r.q.QueryRow(ctx, query, invoiceID).Scan(
		&rec.InvoiceID, &rec.Status, &rec.RetryCount, &rec.MaxRetries,
		&rec.NextRetryAt, &rec.LastError, &rec.GatewayResponse,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get compliance record: %w", err)
	}
	return &rec, nil
}

// Update actualiza el estado completo del ciclo de validación.
func (r *ComplianceRecordRepo) Update(ctx context.Context, rec *entity.ComplianceRecord) error {
	query := `
		UPDATE compliance_records
		SET status           = $2,
		    retry_count      = $3,
		    next_retry_at    = $4,
		    last_error       = $5,
		    gateway_response = COALESCE($6, gateway_response),
		    updated_at       = $7
		WHERE invoice_id = $1`
	tag, err := r.q.Exec(ctx, query,
		rec.InvoiceID, rec.Status, rec.RetryCount, rec.NextRetryAt,
		nullIfEmpty(rec.LastError), nullIfEmpty(rec.GatewayResponse), rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update compliance record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, rec.InvoiceID)
	}
	return nil
}

// ListByStatus devuelve todos los registros en un estado dado.
func (r *ComplianceRecordRepo) ListByStatus(ctx context.Context, status string) ([]*entity.ComplianceRecord, error) {
	query := `
		SELECT invoice_id, status, retry_count, max_retries, next_retry_at,
		       COALESCE(last_error, ''), COALESCE(gateway_response, ''),
		       created_at, updated_at
		FROM compliance_records WHERE status = $1 ORDER BY created_at`
	rows, err := r.q.Query(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListRetryDue devuelve los registros en RETRY con reintento vencido.
func (r *ComplianceRecordRepo) ListRetryDue(ctx context.Context, now time.Time) ([]*entity.ComplianceRecord, error) {
	query := `
		SELECT invoice_id, status, retry_count, max_retries, next_retry_at,
		       COALESCE(last_error, ''), COALESCE(gateway_response, ''),
		       created_at, updated_at
		FROM compliance_records
		WHERE status = 'RETRY' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
		ORDER BY next_retry_at`
	rows, err := r.q.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("list retry due: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CountByStatus conteo por estado para el reporte agregado.
func (r *ComplianceRecordRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.q.Query(ctx, `SELECT status, COUNT(*) FROM compliance_records GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListCreatedBefore devuelve los IDs de registros anteriores al corte.
func (r *ComplianceRecordRepo) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.q.Query(ctx,
		`SELECT invoice_id FROM compliance_records WHERE created_at < $1 ORDER BY invoice_id`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list created before: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan purgable id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete borra un registro por invoice_id (idempotente).
func (r *ComplianceRecordRepo) Delete(ctx context.Context, invoiceID string) error {
	if _, err := r.q.Exec(ctx,
		`DELETE FROM compliance_records WHERE invoice_id = $1`, invoiceID); err != nil {
		return fmt.Errorf("delete compliance record: %w", err)
	}
	return nil
}

func scanRecords(rows pgx.Rows) ([]*entity.ComplianceRecord, error) {
	var list []*entity.ComplianceRecord
	for rows.Next() {
		var rec entity.ComplianceRecord
		if err := rows.Scan(
			&rec.InvoiceID, &rec.Status, &rec.RetryCount, &rec.MaxRetries,
			&rec.NextRetryAt, &rec.LastError, &rec.GatewayResponse,
			&rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		list = append(list, &rec)
	}
	return list, rows.Err()
}
