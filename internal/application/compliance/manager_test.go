package compliance_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/fiscal-api/internal/application/compliance"
	"github.com/jhoicas/fiscal-api/internal/domain"
	"github.com/jhoicas/fiscal-api/internal/domain/entity"
	"github.com/jhoicas/fiscal-api/internal/infrastructure/memorystore"
	"github.com/jhoicas/fiscal-api/pkg/logger"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de test: reloj fijo y pasarela programable
// ──────────────────────────────────────────────────────────────────────────────

// fakeClock reloj controlable; los tiempos de reintento se verifican sin dormir.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway pasarela programable por llamada.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	validate func(call int) (*compliance.ValidationOutcome, error)
}

func (g *fakeGateway) Validate(_ context.Context, _ string, _ *entity.InvoiceFacts) (*compliance.ValidationOutcome, error) {
	g.mu.Lock()
	g.calls++
	call := g.calls
	fn := g.validate
	g.mu.Unlock()
	return fn(call)
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// acceptAll pasarela que siempre acepta.
func acceptAll() *fakeGateway {
	return &fakeGateway{validate: func(int) (*compliance.ValidationOutcome, error) {
		return &compliance.ValidationOutcome{Accepted: true, ReferenceCode: "TRK-001", RawResponse: "<ok/>"}, nil
	}}
}

// rejectAll pasarela que siempre rechaza el contenido (err=nil).
func rejectAll(msg string) *fakeGateway {
	return &fakeGateway{validate: func(int) (*compliance.ValidationOutcome, error) {
		return &compliance.ValidationOutcome{Accepted: false, Errors: msg, RawResponse: "<fault/>"}, nil
	}}
}

// failTransport pasarela con error de transporte permanente.
func failTransport() *fakeGateway {
	return &fakeGateway{validate: func(int) (*compliance.ValidationOutcome, error) {
		return nil, errors.New("connection refused")
	}}
}

type managerFixture struct {
	manager *compliance.ResilienceManager
	records *memorystore.Store
	backups *memorystore.BackupStore
	clock   *fakeClock
	gateway *fakeGateway
}

// newFixture cablea un gestor sobre los almacenes en memoria.
func newFixture(gw *fakeGateway, cfg compliance.Config) *managerFixture {
	f := &managerFixture{
		records: memorystore.NewStore(),
		backups: memorystore.NewBackupStore(),
		clock:   newFakeClock(),
		gateway: gw,
	}
	f.manager = compliance.NewResilienceManager(f.records, f.backups, gw, f.clock, cfg, logger.Nop())
	return f
}

// sampleFacts hechos mínimos válidos para el ciclo de validación.
func sampleFacts() *entity.InvoiceFacts {
	return &entity.InvoiceFacts{
		InvoiceNumber:       "FV-2025-001",
		InvoiceDate:         time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		FreeTextDescription: "Honorarios de consultoría",
		SellerTaxID:         "900373115-3",
		SellerRegime:        "common",
		SellerCity:          "Bogotá",
		BuyerTaxID:          "860002964-4",
		BuyerRegime:         "common",
		BuyerCity:           "Medellín",
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Registro
// ──────────────────────────────────────────────────────────────────────────────

func TestRegisterInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{})

	rec, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	assert.Equal(t, entity.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 3, rec.MaxRetries, "default de intentos")
	assert.Nil(t, rec.NextRetryAt)

	// El respaldo durable queda escrito en el mismo registro.
	backup, err := f.backups.Get(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, backup)
	assert.Equal(t, "FV-2025-001", backup.Facts.InvoiceNumber)
}

func TestRegisterInvoice_Duplicado(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	_, err = f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestRegisterInvoice_EntradaInvalida(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "", sampleFacts())
	assert.ErrorIs(t, err, domain.ErrInvalidFacts)

	_, err = f.manager.RegisterInvoice(ctx, "inv-1", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidFacts)
}

// ──────────────────────────────────────────────────────────────────────────────
// Máquina de estados
// ──────────────────────────────────────────────────────────────────────────────

func TestAttemptValidation_Exitosa(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	rec, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusValidated, rec.Status)
	assert.Nil(t, rec.NextRetryAt)
	assert.Empty(t, rec.LastError)
	assert.Equal(t, "<ok/>", rec.GatewayResponse)
}

// TestAttemptValidation_ProgresionDeReintentos un fallo permanente recorre
// PENDING → RETRY → RETRY → FAILED con backoff 1, 3 minutos y cierre terminal.
func TestAttemptValidation_ProgresionDeReintentos(t *testing.T) {
	ctx := context.Background()
	f := newFixture(failTransport(), compliance.Config{BaseRetryDelay: time.Minute})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	// Intento 1: RETRY, próximo en 1 minuto.
	rec, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err, "el fallo de pasarela se absorbe como transición")
	assert.Equal(t, entity.StatusRetry, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	require.NotNil(t, rec.NextRetryAt)
	first := *rec.NextRetryAt
	assert.Equal(t, f.clock.Now().Add(time.Minute), first)
	assert.Contains(t, rec.LastError, "transporte:")

	// Intento 2: RETRY, próximo en 3 minutos; el backoff crece estrictamente.
	f.clock.Advance(time.Minute)
	rec, err = f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusRetry, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
	require.NotNil(t, rec.NextRetryAt)
	second := *rec.NextRetryAt
	assert.Equal(t, f.clock.Now().Add(3*time.Minute), second)
	assert.True(t, second.Sub(f.clock.Now()) > first.Sub(f.clock.Now().Add(-time.Minute)),
		"cada espera debe ser mayor que la anterior")

	// Intento 3: agota MaxRetries, cierre terminal sin próximo reintento.
	f.clock.Advance(3 * time.Minute)
	rec, err = f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Nil(t, rec.NextRetryAt, "un registro terminal no programa reintentos")
	assert.True(t, rec.IsTerminal())
}

// TestAttemptValidation_RechazoDeContenido un rechazo de la autoridad (sin
// error de transporte) conduce el mismo camino de reintentos.
func TestAttemptValidation_RechazoDeContenido(t *testing.T) {
	ctx := context.Background()
	f := newFixture(rejectAll("Regla FAD06: NIT del emisor no autorizado"), compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	rec, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusRetry, rec.Status)
	assert.Contains(t, rec.LastError, "rechazo:")
	assert.Contains(t, rec.LastError, "FAD06")
	assert.Equal(t, "<fault/>", rec.GatewayResponse)
}

func TestAttemptValidation_ErroresDeContrato(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{MaxRetries: 1})

	t.Run("registro inexistente", func(t *testing.T) {
		_, err := f.manager.AttemptValidation(ctx, "no-existe")
		assert.ErrorIs(t, err, domain.ErrRecordNotFound)
	})

	t.Run("registro terminal", func(t *testing.T) {
		_, err := f.manager.RegisterInvoice(ctx, "inv-ok", sampleFacts())
		require.NoError(t, err)
		_, err = f.manager.AttemptValidation(ctx, "inv-ok")
		require.NoError(t, err) // queda VALIDATED

		_, err = f.manager.AttemptValidation(ctx, "inv-ok")
		assert.ErrorIs(t, err, domain.ErrRecordFinalized)
		assert.Equal(t, 1, f.gateway.callCount(), "un registro terminal no vuelve a la pasarela")
	})
}

// TestAttemptValidation_RecuperaEnReintento el segundo intento puede validar.
func TestAttemptValidation_RecuperaEnReintento(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{validate: func(call int) (*compliance.ValidationOutcome, error) {
		if call == 1 {
			return nil, errors.New("gateway timeout")
		}
		return &compliance.ValidationOutcome{Accepted: true, ReferenceCode: "TRK-002"}, nil
	}}
	f := newFixture(gw, compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	rec, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, entity.StatusRetry, rec.Status)

	rec, err = f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusValidated, rec.Status)
	assert.Empty(t, rec.LastError, "la validación exitosa limpia el último error")
}

// ──────────────────────────────────────────────────────────────────────────────
// Exclusión por factura
// ──────────────────────────────────────────────────────────────────────────────

// TestAttemptValidation_ExclusionPorFactura bajo contención sobre el mismo ID
// nunca hay más de una validación en vuelo y no se pierden incrementos.
func TestAttemptValidation_ExclusionPorFactura(t *testing.T) {
	ctx := context.Background()

	var inFlight, maxInFlight atomic.Int32
	gw := &fakeGateway{validate: func(int) (*compliance.ValidationOutcome, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil, errors.New("down")
	}}
	f := newFixture(gw, compliance.Config{MaxRetries: 100})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.AttemptValidation(ctx, "inv-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load(), "como máximo una validación en vuelo por factura")

	rec, err := f.records.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Equal(t, workers, rec.RetryCount, "ningún incremento se pierde bajo contención")
}

// ──────────────────────────────────────────────────────────────────────────────
// Respaldo durable y purga
// ──────────────────────────────────────────────────────────────────────────────

// TestBackup_SobreviveAlFallo el respaldo de hechos persiste tras FAILED y
// solo desaparece con la purga del registro.
func TestBackup_SobreviveAlFallo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(failTransport(), compliance.Config{MaxRetries: 1})

	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	rec, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	require.Equal(t, entity.StatusFailed, rec.Status)

	backup, err := f.backups.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.NotNil(t, backup, "el respaldo sobrevive al cierre terminal")

	// La purga es la única operación que descarta el respaldo.
	f.clock.Advance(91 * 24 * time.Hour)
	n, err := f.manager.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	backup, err = f.backups.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, backup)

	rec2, err := f.records.Get(ctx, "inv-1")
	require.NoError(t, err)
	assert.Nil(t, rec2)
}

// TestPurgeOlderThan_SerializaConIntentosEnVuelo la purga corre bajo el
// candado por factura: un intento en vuelo termina de persistir antes de que
// la purga decida, y un re-registro posterior del mismo ID sobrevive con su
// propio estado y fecha de creación (nunca los de la generación purgada).
func TestPurgeOlderThan_SerializaConIntentosEnVuelo(t *testing.T) {
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	gw := &fakeGateway{validate: func(call int) (*compliance.ValidationOutcome, error) {
		if call == 1 {
			close(entered)
			<-release
			return nil, errors.New("down")
		}
		return &compliance.ValidationOutcome{Accepted: true}, nil
	}}
	f := newFixture(gw, compliance.Config{BaseRetryDelay: time.Minute})

	registeredAt := f.clock.Now()
	_, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)

	// Intento en vuelo, detenido dentro de la pasarela con el candado tomado.
	attemptDone := make(chan struct{})
	go func() {
		defer close(attemptDone)
		_, err := f.manager.AttemptValidation(ctx, "inv-1")
		assert.NoError(t, err)
	}()
	<-entered

	// La purga arranca con el registro ya purgable; debe esperar al intento.
	f.clock.Advance(91 * 24 * time.Hour)
	purgeDone := make(chan int)
	go func() {
		n, err := f.manager.PurgeOlderThan(ctx, 90*24*time.Hour)
		assert.NoError(t, err)
		purgeDone <- n
	}()

	close(release)
	<-attemptDone
	require.Equal(t, 1, <-purgeDone, "el registro viejo se purga tras el intento")

	// Re-registro del mismo ID: generación nueva, limpia.
	rec, err := f.manager.RegisterInvoice(ctx, "inv-1", sampleFacts())
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, rec.Status)
	assert.Equal(t, f.clock.Now(), rec.CreatedAt)

	stored, err := f.records.Get(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, entity.StatusPending, stored.Status,
		"ningún intento de la generación purgada puede pisar el re-registro")
	assert.True(t, stored.CreatedAt.After(registeredAt),
		"created_at debe ser el del re-registro, no el purgado")
	assert.Equal(t, 0, stored.RetryCount)

	// El re-registro no es purgable con el mismo corte.
	n, err := f.manager.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestPurgeOlderThan_RespetaElCorte registros recientes no se purgan.
func TestPurgeOlderThan_RespetaElCorte(t *testing.T) {
	ctx := context.Background()
	f := newFixture(acceptAll(), compliance.Config{})

	_, err := f.manager.RegisterInvoice(ctx, "inv-vieja", sampleFacts())
	require.NoError(t, err)

	f.clock.Advance(60 * 24 * time.Hour)
	_, err = f.manager.RegisterInvoice(ctx, "inv-reciente", sampleFacts())
	require.NoError(t, err)

	f.clock.Advance(45 * 24 * time.Hour)
	n, err := f.manager.PurgeOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "solo la factura vieja supera los 90 días")

	rec, err := f.records.Get(ctx, "inv-reciente")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

// ──────────────────────────────────────────────────────────────────────────────
// Consultas agregadas
// ──────────────────────────────────────────────────────────────────────────────

func TestComplianceStats(t *testing.T) {
	ctx := context.Background()
	gw := &fakeGateway{validate: func(call int) (*compliance.ValidationOutcome, error) {
		// la primera factura valida; el resto falla
		if call == 1 {
			return &compliance.ValidationOutcome{Accepted: true}, nil
		}
		return nil, errors.New("down")
	}}
	f := newFixture(gw, compliance.Config{MaxRetries: 1})

	for _, id := range []string{"inv-1", "inv-2", "inv-3"} {
		_, err := f.manager.RegisterInvoice(ctx, id, sampleFacts())
		require.NoError(t, err)
	}
	_, err := f.manager.AttemptValidation(ctx, "inv-1")
	require.NoError(t, err)
	_, err = f.manager.AttemptValidation(ctx, "inv-2")
	require.NoError(t, err)

	st, err := f.manager.ComplianceStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Validated)
	assert.Equal(t, 1, st.Failed)
	assert.Equal(t, 1, st.InFlight, "inv-3 sigue PENDING")

	failed, err := f.manager.FailedInvoices(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "inv-2", failed[0].InvoiceID)
}
