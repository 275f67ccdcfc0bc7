package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	// ErrInvalidFacts hechos de factura malformados (montos negativos, fecha
	// inválida, régimen desconocido). Se rechazan antes de llegar al motor.
	ErrInvalidFacts = errors.New("hechos de factura inválidos")
	// ErrInvalidRuleConfig configuración de reglas tributarias incompleta o
	// inconsistente. Fatal al arranque, nunca recuperable por factura.
	ErrInvalidRuleConfig = errors.New("configuración de reglas tributarias inválida")
	// ErrAlreadyRegistered la factura ya tiene un registro de cumplimiento.
	ErrAlreadyRegistered = errors.New("factura ya registrada")
	// ErrRecordNotFound no existe registro de cumplimiento para el ID.
	ErrRecordNotFound = errors.New("registro de cumplimiento no encontrado")
	// ErrRecordFinalized el registro está en estado terminal (VALIDATED o
	// FAILED) y no admite nuevos intentos de validación.
	ErrRecordFinalized = errors.New("registro de cumplimiento ya finalizado")
	// ErrBackupNotFound no existe respaldo de hechos para el ID.
	ErrBackupNotFound = errors.New("respaldo de hechos no encontrado")
)
