package compliance

import (
	"context"
	"errors"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/pkg/logger"
)

// SchedulerConfig cadencias del barrido cooperativo (modelo poll, sin push).
type SchedulerConfig struct {
	// SweepInterval cadencia del barrido de reintentos vencidos (legado: 5 min).
	SweepInterval time.Duration
	// PurgeInterval cadencia de la purga de registros antiguos (legado: diaria).
	PurgeInterval time.Duration
	// PurgeAge antigüedad mínima de un registro para ser purgado.
	PurgeAge time.Duration
	// StatsInterval cadencia del reporte agregado de cumplimiento.
	StatsInterval time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = 24 * time.Hour
	}
	if c.PurgeAge <= 0 {
		c.PurgeAge = 90 * 24 * time.Hour
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = 24 * time.Hour
	}
	return c
}

// Scheduler conduce las tareas periódicas del gestor: barrido de reintentos,
// purga y reporte. Cada vuelta es best-effort; un fallo se registra y la
// siguiente vuelta lo reintenta.
type Scheduler struct {
	manager *ResilienceManager
	cfg     SchedulerConfig
	log     *logger.Logger
}

// NewScheduler construye el barredor sobre un gestor ya cableado.
func NewScheduler(manager *ResilienceManager, cfg SchedulerConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{manager: manager, cfg: cfg.withDefaults(), log: log}
}

// SweepDueRetries ejecuta una vuelta del barrido: lista los reintentos
// vencidos y dispara AttemptValidation por cada uno. Devuelve cuántos
// procesó; los errores de contrato por registro no abortan la vuelta.
func (s *Scheduler) SweepDueRetries(ctx context.Context) (int, error) {
	due, err := s.manager.DueRetries(ctx, s.manager.clock.Now())
	if err != nil {
		return 0, err
	}
	processed := 0
	for _, record := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if _, err := s.manager.AttemptValidation(ctx, record.InvoiceID); err != nil {
			// Otro worker pudo finalizar el registro entre el listado y el
			// intento: no es falla del barrido.
			if errors.Is(err, domain.ErrRecordFinalized) || errors.Is(err, domain.ErrRecordNotFound) {
				continue
			}
			s.log.Error().Str("invoice_id", record.InvoiceID).Err(err).Msg("barrido: intento de validación falló")
			continue
		}
		processed++
	}
	return processed, nil
}

// Run bloquea ejecutando las cadencias hasta que el contexto se cancele.
func (s *Scheduler) Run(ctx context.Context) {
	sweep := time.NewTicker(s.cfg.SweepInterval)
	purge := time.NewTicker(s.cfg.PurgeInterval)
	stats := time.NewTicker(s.cfg.StatsInterval)
	defer sweep.Stop()
	defer purge.Stop()
	defer stats.Stop()

	s.log.Info().
		Dur("sweep_interval", s.cfg.SweepInterval).
		Dur("purge_interval", s.cfg.PurgeInterval).
		Msg("barredor de cumplimiento iniciado")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("barredor de cumplimiento detenido")
			return

		case <-sweep.C:
			n, err := s.SweepDueRetries(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error().Err(err).Msg("barrido de reintentos falló")
			} else if n > 0 {
				s.log.Info().Int("processed", n).Msg("reintentos vencidos procesados")
			}

		case <-purge.C:
			if _, err := s.manager.PurgeOlderThan(ctx, s.cfg.PurgeAge); err != nil {
				s.log.Error().Err(err).Msg("purga de registros falló")
			}

		case <-stats.C:
			st, err := s.manager.ComplianceStats(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("reporte de cumplimiento falló")
				continue
			}
			s.log.Info().
				Int("total", st.Total).
				Int("validated", st.Validated).
				Int("failed", st.Failed).
				Int("in_flight", st.InFlight).
				Msg("reporte diario de cumplimiento")
		}
	}
}
