// Package redisstore implementa los puertos de persistencia de cumplimiento
// sobre Redis: registros y respaldos como valores JSON, índices por estado en
// sets e índices temporales (reintentos vencidos, antigüedad) en sorted sets.
// Cumple el contrato de "cualquier almacén llave-valor" del puerto; la
// exclusión por factura la aporta el gestor, no el almacén.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

const (
	recordKeyPrefix = "fiscal:record:"
	backupKeyPrefix = "fiscal:backup:"
	statusKeyPrefix = "fiscal:status:"
	retryDueKey     = "fiscal:retry_due"
	createdKey      = "fiscal:created"
)

var _ repository.ComplianceRecordStore = (*RecordStore)(nil)
var _ repository.FactsBackupStore = (*BackupStore)(nil)

// RecordStore implementa ComplianceRecordStore sobre un cliente Redis.
type RecordStore struct {
	client *redis.Client
}

// BackupStore implementa FactsBackupStore sobre el mismo cliente.
type BackupStore struct {
	client *redis.Client
}

// NewBackupStore construye el adaptador de respaldos.
func NewBackupStore(client *redis.Client) *BackupStore {
	return &BackupStore{client: client}
}

// NewRecordStore construye el adaptador y verifica conectividad.
func NewRecordStore(ctx context.Context, client *redis.Client) (*RecordStore, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RecordStore{client: client}, nil
}

func recordKey(id string) string { return recordKeyPrefix + id }
func backupKey(id string) string { return backupKeyPrefix + id }
func statusKey(s string) string  { return statusKeyPrefix + s }

// Create persiste el registro y sus índices. SetNX sobre la llave del
// registro hace las veces de la violación de PK de un relacional.
func (s *RecordStore) Create(ctx context.Context, rec *entity.ComplianceRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializar registro: %w", err)
	}
	ok, err := s.client.SetNX(ctx, recordKey(rec.InvoiceID), raw, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx registro: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, rec.InvoiceID)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, statusKey(rec.Status), rec.InvoiceID)
		pipe.ZAdd(ctx, createdKey, redis.Z{Score: float64(rec.CreatedAt.Unix()), Member: rec.InvoiceID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("indexar registro: %w", err)
	}
	return nil
}

// Get obtiene un registro. (nil, nil) si no existe.
func (s *RecordStore) Get(ctx context.Context, invoiceID string) (*entity.ComplianceRecord, error) {
	raw, err := s.client.Get(ctx, recordKey(invoiceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get registro: %w", err)
	}
	var rec entity.ComplianceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("deserializar registro: %w", err)
	}
	return &rec, nil
}

// Update reescribe el registro y mueve sus índices de estado y reintento en
// una sola transacción de pipeline.
func (s *RecordStore) Update(ctx context.Context, rec *entity.ComplianceRecord) error {
	prev, err := s.Get(ctx, rec.InvoiceID)
	if err != nil {
		return err
	}
	if prev == nil {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, rec.InvoiceID)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serializar registro: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(rec.InvoiceID), raw, 0)
		if prev.Status != rec.Status {
			pipe.SRem(ctx, statusKey(prev.Status), rec.InvoiceID)
			pipe.SAdd(ctx, statusKey(rec.Status), rec.InvoiceID)
		}
		if rec.Status == entity.StatusRetry && rec.NextRetryAt != nil {
			pipe.ZAdd(ctx, retryDueKey, redis.Z{Score: float64(rec.NextRetryAt.Unix()), Member: rec.InvoiceID})
		} else {
			pipe.ZRem(ctx, retryDueKey, rec.InvoiceID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update registro: %w", err)
	}
	return nil
}

// ListByStatus devuelve los registros de un estado vía su set índice.
func (s *RecordStore) ListByStatus(ctx context.Context, status string) ([]*entity.ComplianceRecord, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", status, err)
	}
	return s.fetchRecords(ctx, ids)
}

// ListRetryDue devuelve los registros con reintento vencido (score <= now).
func (s *RecordStore) ListRetryDue(ctx context.Context, now time.Time) ([]*entity.ComplianceRecord, error) {
	ids, err := s.client.ZRangeByScore(ctx, retryDueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore retry_due: %w", err)
	}
	return s.fetchRecords(ctx, ids)
}

// CountByStatus cardinalidad de cada set de estado.
func (s *RecordStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(entity.KnownStatuses))
	for status := range entity.KnownStatuses {
		n, err := s.client.SCard(ctx, statusKey(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("scard %s: %w", status, err)
		}
		if n > 0 {
			counts[status] = int(n)
		}
	}
	return counts, nil
}

// ListCreatedBefore IDs anteriores al corte según el índice de creación.
// El corte es estricto (created_at < cutoff, mismo contrato que los demás
// backends); con scores en segundos eso excluye el segundo del corte entero.
func (s *RecordStore) ListCreatedBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, createdKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrangebyscore created: %w", err)
	}
	return ids, nil
}

// Delete borra el registro y todos sus índices (idempotente).
func (s *RecordStore) Delete(ctx context.Context, invoiceID string) error {
	rec, err := s.Get(ctx, invoiceID)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(invoiceID))
		if rec != nil {
			pipe.SRem(ctx, statusKey(rec.Status), invoiceID)
		}
		pipe.ZRem(ctx, retryDueKey, invoiceID)
		pipe.ZRem(ctx, createdKey, invoiceID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("borrar registro %s: %w", invoiceID, err)
	}
	return nil
}

// fetchRecords materializa una lista de IDs con MGET.
func (s *RecordStore) fetchRecords(ctx context.Context, ids []string) ([]*entity.ComplianceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget registros: %w", err)
	}
	list := make([]*entity.ComplianceRecord, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // índice adelantado a un registro ya borrado
		}
		var rec entity.ComplianceRecord
		if err := json.Unmarshal([]byte(str), &rec); err != nil {
			return nil, fmt.Errorf("deserializar registro: %w", err)
		}
		list = append(list, &rec)
	}
	return list, nil
}

// ── Respaldos de hechos ───────────────────────────────────────────────────────

// Save guarda el respaldo de hechos bajo la misma clave de factura.
func (s *BackupStore) Save(ctx context.Context, backup *entity.FactsBackup) error {
	raw, err := json.Marshal(backup)
	if err != nil {
		return fmt.Errorf("serializar respaldo: %w", err)
	}
	if err := s.client.Set(ctx, backupKey(backup.InvoiceID), raw, 0).Err(); err != nil {
		return fmt.Errorf("set respaldo: %w", err)
	}
	return nil
}

// Get obtiene el respaldo. (nil, nil) si no existe.
func (s *BackupStore) Get(ctx context.Context, invoiceID string) (*entity.FactsBackup, error) {
	raw, err := s.client.Get(ctx, backupKey(invoiceID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get respaldo: %w", err)
	}
	var backup entity.FactsBackup
	if err := json.Unmarshal(raw, &backup); err != nil {
		return nil, fmt.Errorf("deserializar respaldo: %w", err)
	}
	return &backup, nil
}

// Delete borra el respaldo (idempotente).
func (s *BackupStore) Delete(ctx context.Context, invoiceID string) error {
	if err := s.client.Del(ctx, backupKey(invoiceID)).Err(); err != nil {
		return fmt.Errorf("del respaldo: %w", err)
	}
	return nil
}
