package compliance

import (
	"context"
	"time"

	"github.com/jhoicas/fiscal-api/internal/domain/entity"
)

// ValidationOutcome resultado de un intento de validación ante la autoridad
// tributaria. Accepted=false con err=nil es un rechazo de contenido; un error
// de transporte (timeout, 5xx, red) llega como err.
type ValidationOutcome struct {
	Accepted      bool   // la autoridad aceptó el documento
	ReferenceCode string // TrackID/ZipKey devuelto por el WS
	RawResponse   string // payload crudo para auditoría
	Errors        string // mensajes de rechazo (puede ser vacío)
}

// ValidationGateway define el puerto de salida hacia el servicio externo de
// validación fiscal. La implementación concreta usa el WS SOAP de la DIAN;
// para tests se inyecta un mock. El manager envuelve cada llamada con su
// propio timeout: una pasarela colgada no puede matar el ciclo de reintentos.
type ValidationGateway interface {
	Validate(ctx context.Context, invoiceID string, facts *entity.InvoiceFacts) (*ValidationOutcome, error)
}

// Clock abstrae el reloj para que los tiempos de reintento sean verificables
// en tests sin dormir.
type Clock interface {
	Now() time.Time
}

// SystemClock reloj real.
type SystemClock struct{}

// Now devuelve la hora actual.
func (SystemClock) Now() time.Time { return time.Now() }
