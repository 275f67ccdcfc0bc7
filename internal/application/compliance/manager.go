// Package compliance implementa el gestor de resiliencia del ciclo de
// validación fiscal: registra facturas, invoca la pasarela de validación,
// interpreta resultados y conduce cada registro por la máquina de estados
//
//	PENDING → {VALIDATED | RETRY} ; RETRY → {VALIDATED | RETRY | FAILED}
//
// con backoff exponencial y respaldo durable de los hechos originales.
package compliance

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/domain/repository"
	"github.com/jhoicas/fiscal-api/pkg/logger"
)

// Config parámetros del ciclo de validación.
type Config struct {
	// MaxRetries intentos máximos antes de FAILED (default 3).
	MaxRetries int
	// BaseRetryDelay base del backoff exponencial base·3^(n−1); con 1 minuto
	// el calendario queda en ~1, 3, 9 minutos.
	BaseRetryDelay time.Duration
	// GatewayTimeout tope por llamada a la pasarela (contrato legado: 30 s).
	GatewayTimeout time.Duration
}

// withDefaults completa los valores no configurados.
func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Minute
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = 30 * time.Second
	}
	return c
}

// Stats agregado de cumplimiento para el reporte diario.
type Stats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"by_status"`
	Validated int            `json:"validated"`
	Failed    int            `json:"failed"`
	InFlight  int            `json:"in_flight"` // PENDING + RETRY
}

// ResilienceManager es el dueño exclusivo de la mutación de registros de
// cumplimiento. Las mutaciones por factura corren bajo exclusión por ID:
// como máximo una validación en vuelo por factura, mientras facturas
// distintas avanzan en paralelo.
type ResilienceManager struct {
	records repository.ComplianceRecordStore
	backups repository.FactsBackupStore
	gateway ValidationGateway
	clock   Clock
	cfg     Config
	log     *logger.Logger

	// candados por invoice_id; las entradas viven lo que viva el proceso,
	// acotadas por el volumen de facturas activas.
	locks sync.Map // map[string]*sync.Mutex
}

// NewResilienceManager construye el gestor. clock puede ser nil (reloj real).
func NewResilienceManager(
	records repository.ComplianceRecordStore,
	backups repository.FactsBackupStore,
	gateway ValidationGateway,
	clock Clock,
	cfg Config,
	log *logger.Logger,
) *ResilienceManager {
	if clock == nil {
		clock = SystemClock{}
	}
	return &ResilienceManager{
		records: records,
		backups: backups,
		gateway: gateway,
		clock:   clock,
		cfg:     cfg.withDefaults(),
		log:     log,
	}
}

// lockInvoice toma el candado de la factura; el unlock devuelto libera.
// Tras adquirir verifica que la entrada siga vigente: la purga retira el
// candado del mapa y un goroutine que esperaba sobre el candado retirado debe
// volver a empezar con el vigente, o dos mutaciones del mismo ID correrían
// bajo candados distintos.
func (m *ResilienceManager) lockInvoice(invoiceID string) func() {
	for {
		v, _ := m.locks.LoadOrStore(invoiceID, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		if cur, ok := m.locks.Load(invoiceID); ok && cur == v {
			return mu.Unlock
		}
		mu.Unlock()
	}
}

// RegisterInvoice crea el registro en PENDING y persiste el respaldo durable
// de los hechos bajo el mismo ID. Re-registrar un ID existente es un error de
// contrato (ErrAlreadyRegistered), nunca un reintento.
func (m *ResilienceManager) RegisterInvoice(ctx context.Context, invoiceID string, facts *entity.InvoiceFacts) (*entity.ComplianceRecord, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("%w: invoice_id vacío", domain.ErrInvalidFacts)
	}
	if facts == nil {
		return nil, fmt.Errorf("%w: hechos nulos para %s", domain.ErrInvalidFacts, invoiceID)
	}
	unlock := m.lockInvoice(invoiceID)
	defer unlock()

	existing, err := m.records.Get(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("consultar registro %s: %w", invoiceID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrAlreadyRegistered, invoiceID)
	}

	now := m.clock.Now()

	// El respaldo se escribe primero: si la creación del registro falla a
	// mitad de camino, los hechos ya quedaron a salvo.
	if err := m.backups.Save(ctx, &entity.FactsBackup{
		InvoiceID:       invoiceID,
		Facts:           *facts,
		BackupCreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("respaldar hechos de %s: %w", invoiceID, err)
	}

	record := &entity.ComplianceRecord{
		InvoiceID:  invoiceID,
		Status:     entity.StatusPending,
		RetryCount: 0,
		MaxRetries: m.cfg.MaxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.records.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("crear registro %s: %w", invoiceID, err)
	}

	m.log.Info().Str("invoice_id", invoiceID).Msg("factura registrada para validación fiscal")
	return record, nil
}

// AttemptValidation ejecuta un intento de validación: una vez al registrar y
// una vez por cada reintento vencido. Los fallos de pasarela (transporte o
// rechazo de contenido, tratados idéntico por política heredada) se absorben
// como transiciones de estado y jamás se propagan como error; solo las
// violaciones de contrato (ID desconocido, registro terminal) escapan.
func (m *ResilienceManager) AttemptValidation(ctx context.Context, invoiceID string) (*entity.ComplianceRecord, error) {
	unlock := m.lockInvoice(invoiceID)
	defer unlock()

	record, err := m.records.Get(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("consultar registro %s: %w", invoiceID, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRecordNotFound, invoiceID)
	}
	if record.IsTerminal() {
		return nil, fmt.Errorf("%w: %s en estado %s", domain.ErrRecordFinalized, invoiceID, record.Status)
	}

	backup, err := m.backups.Get(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("leer respaldo de %s: %w", invoiceID, err)
	}
	if backup == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBackupNotFound, invoiceID)
	}

	gwCtx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	outcome, gwErr := m.gateway.Validate(gwCtx, invoiceID, &backup.Facts)
	cancel()

	now := m.clock.Now()
	record.UpdatedAt = now

	switch {
	case gwErr == nil && outcome != nil && outcome.Accepted:
		record.Status = entity.StatusValidated
		record.NextRetryAt = nil
		record.LastError = ""
		record.GatewayResponse = outcome.RawResponse
		m.log.Info().
			Str("invoice_id", invoiceID).
			Str("reference", outcome.ReferenceCode).
			Msg("factura validada por la autoridad tributaria")

	default:
		// Rechazo de contenido y fallo de transporte conducen el mismo
		// camino de reintentos.
		record.RetryCount++
		record.LastError = attemptError(outcome, gwErr)
		if outcome != nil {
			record.GatewayResponse = outcome.RawResponse
		}

		if record.RetryCount < record.MaxRetries {
			record.Status = entity.StatusRetry
			next := now.Add(m.backoffDelay(record.RetryCount))
			record.NextRetryAt = &next
			m.log.Warn().
				Str("invoice_id", invoiceID).
				Int("retry_count", record.RetryCount).
				Time("next_retry_at", next).
				Str("last_error", record.LastError).
				Msg("validación fallida, reintento programado")
		} else {
			record.Status = entity.StatusFailed
			record.NextRetryAt = nil
			m.log.Error().
				Str("invoice_id", invoiceID).
				Int("retry_count", record.RetryCount).
				Str("last_error", record.LastError).
				Msg("validación agotó los reintentos, requiere revisión manual")
		}
	}

	if err := m.records.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("persistir registro %s: %w", invoiceID, err)
	}
	return record, nil
}

// backoffDelay calcula base·3^(n−1): con base de 1 minuto, ~1, 3, 9 minutos.
func (m *ResilienceManager) backoffDelay(retryCount int) time.Duration {
	factor := math.Pow(3, float64(retryCount-1))
	return time.Duration(float64(m.cfg.BaseRetryDelay) * factor)
}

// attemptError arma el texto de last_error de un intento fallido.
func attemptError(outcome *ValidationOutcome, gwErr error) string {
	if gwErr != nil {
		return "transporte: " + gwErr.Error()
	}
	if outcome != nil && outcome.Errors != "" {
		return "rechazo: " + outcome.Errors
	}
	return "rechazo sin detalle de la autoridad"
}

// DueRetries devuelve los registros en RETRY cuyo next_retry_at ya venció.
// Lectura pura: el barredor externo re-invoca AttemptValidation por cada uno.
func (m *ResilienceManager) DueRetries(ctx context.Context, now time.Time) ([]*entity.ComplianceRecord, error) {
	return m.records.ListRetryDue(ctx, now)
}

// FailedInvoices devuelve los registros terminales FAILED para escalamiento
// y revisión humana.
func (m *ResilienceManager) FailedInvoices(ctx context.Context) ([]*entity.ComplianceRecord, error) {
	return m.records.ListByStatus(ctx, entity.StatusFailed)
}

// ComplianceStats agrega los conteos por estado para el reporte diario.
func (m *ResilienceManager) ComplianceStats(ctx context.Context) (*Stats, error) {
	counts, err := m.records.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("contar registros: %w", err)
	}
	st := &Stats{ByStatus: counts}
	for status, n := range counts {
		st.Total += n
		switch status {
		case entity.StatusValidated:
			st.Validated += n
		case entity.StatusFailed:
			st.Failed += n
		case entity.StatusPending, entity.StatusRetry:
			st.InFlight += n
		}
	}
	return st, nil
}

// PurgeOlderThan borra registros creados antes de now−age, junto con sus
// respaldos. Es la única operación que descarta el respaldo de hechos. Cada
// borrado corre bajo el candado de su factura: un intento en vuelo termina de
// persistir antes de que la purga decida, y la antigüedad se re-verifica bajo
// el candado para no tocar un registro re-creado entre el listado y el
// borrado.
func (m *ResilienceManager) PurgeOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := m.clock.Now().Add(-age)
	ids, err := m.records.ListCreatedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listar registros purgables: %w", err)
	}
	purged := 0
	for _, id := range ids {
		unlock := m.lockInvoice(id)
		record, err := m.records.Get(ctx, id)
		if err != nil {
			unlock()
			return purged, fmt.Errorf("consultar registro %s: %w", id, err)
		}
		if record == nil || !record.CreatedAt.Before(cutoff) {
			unlock()
			continue
		}
		if err := m.records.Delete(ctx, id); err != nil {
			unlock()
			return purged, fmt.Errorf("purgar registro %s: %w", id, err)
		}
		if err := m.backups.Delete(ctx, id); err != nil {
			// El registro ya no existe; dejar el respaldo huérfano es
			// preferible a abortar la purga completa.
			m.log.Warn().Str("invoice_id", id).Err(err).Msg("no se pudo borrar el respaldo purgado")
		}
		// Retirar la entrada antes de soltar el candado: quien esperaba sobre
		// ella lo detecta en lockInvoice y reintenta con la vigente.
		m.locks.Delete(id)
		unlock()
		purged++
	}
	if purged > 0 {
		m.log.Info().Int("purged", purged).Time("cutoff", cutoff).Msg("registros antiguos purgados")
	}
	return purged, nil
}
