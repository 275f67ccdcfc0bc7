// Package memorystore implementa los puertos de persistencia en memoria.
// Sirve para el modo dev (sin PostgreSQL ni Redis) y para los tests del
// gestor; el mismo contrato de los backends durables, sin durabilidad.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
)

var _ repository.ComplianceRecordStore = (*Store)(nil)
var _ repository.FactsBackupStore = (*BackupStore)(nil)

// Store almacén de registros en memoria, protegido por mutex.
type Store struct {
	mu      sync.RWMutex
	records map[string]entity.ComplianceRecord
}

// NewStore crea el almacén vacío.
func NewStore() *Store {
	return &Store{records: make(map[string]entity.ComplianceRecord)}
}

// Create inserta un registro nuevo; ID repetido es ErrAlreadyRegistered.
func (s *Store) Create(_ context.Context, rec *entity.ComplianceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.InvoiceID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, rec.InvoiceID)
	}
	s.records[rec.InvoiceID] = cloneRecord(rec)
	return nil
}

// Get devuelve una copia del registro, o (nil, nil) si no existe.
func (s *Store) Get(_ context.Context, invoiceID string) (*entity.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[invoiceID]
	if !ok {
		return nil, nil
	}
	out := cloneRecord(&rec)
	return &out, nil
}

// Update reemplaza el registro existente.
func (s *Store) Update(_ context.Context, rec *entity.ComplianceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.InvoiceID]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecordNotFound, rec.InvoiceID)
	}
	s.records[rec.InvoiceID] = cloneRecord(rec)
	return nil
}

// ListByStatus registros en un estado, ordenados por creación.
func (s *Store) ListByStatus(_ context.Context, status string) ([]*entity.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*entity.ComplianceRecord
	for _, rec := range s.records {
		if rec.Status == status {
			out := cloneRecord(&rec)
			list = append(list, &out)
		}
	}
	sortByCreated(list)
	return list, nil
}

// ListRetryDue registros en RETRY con next_retry_at <= now.
func (s *Store) ListRetryDue(_ context.Context, now time.Time) ([]*entity.ComplianceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []*entity.ComplianceRecord
	for _, rec := range s.records {
		if rec.Status == entity.StatusRetry && rec.NextRetryAt != nil && !rec.NextRetryAt.After(now) {
			out := cloneRecord(&rec)
			list = append(list, &out)
		}
	}
	sortByCreated(list)
	return list, nil
}

// CountByStatus conteo por estado.
func (s *Store) CountByStatus(_ context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, rec := range s.records {
		counts[rec.Status]++
	}
	return counts, nil
}

// ListCreatedBefore IDs de registros anteriores al corte, ordenados.
func (s *Store) ListCreatedBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.records {
		if rec.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete borra el registro (idempotente).
func (s *Store) Delete(_ context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, invoiceID)
	return nil
}

func cloneRecord(rec *entity.ComplianceRecord) entity.ComplianceRecord {
	out := *rec
	if rec.NextRetryAt != nil {
		t := *rec.NextRetryAt
		out.NextRetryAt = &t
	}
	return out
}

func sortByCreated(list []*entity.ComplianceRecord) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].InvoiceID < list[j].InvoiceID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

// BackupStore respaldos de hechos en memoria.
type BackupStore struct {
	mu      sync.RWMutex
	backups map[string]entity.FactsBackup
}

// NewBackupStore crea el almacén de respaldos vacío.
func NewBackupStore() *BackupStore {
	return &BackupStore{backups: make(map[string]entity.FactsBackup)}
}

// Save guarda (o reemplaza) el respaldo.
func (s *BackupStore) Save(_ context.Context, backup *entity.FactsBackup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups[backup.InvoiceID] = *backup
	return nil
}

// Get devuelve el respaldo, o (nil, nil) si no existe.
func (s *BackupStore) Get(_ context.Context, invoiceID string) (*entity.FactsBackup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	backup, ok := s.backups[invoiceID]
	if !ok {
		return nil, nil
	}
	out := backup
	return &out, nil
}

// Delete borra el respaldo (idempotente).
func (s *BackupStore) Delete(_ context.Context, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.backups, invoiceID)
	return nil
}
