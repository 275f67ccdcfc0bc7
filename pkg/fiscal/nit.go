package fiscal

import (
	"fmt"
	"unicode"
)

// pesos para el cálculo del dígito de verificación NIT (Orden Administrativa 4
// de 1989, DIAN). Se aplican a los 9 primeros dígitos, de izquierda a derecha.
var nitWeights = [9]int{41, 37, 29, 23, 19, 17, 13, 7, 3}

// ValidateNITVerificationDigit valida que el NIT (con o sin puntos/guiones)
// tenga un dígito de verificación correcto según el algoritmo módulo 11 de la
// DIAN. taxID puede ser "123456789-1", "123.456.789-1" o "1234567891".
// Un NIT de 9 dígitos (sin DV) se considera válido: el DV es opcional en los
// hechos de factura y obligatorio solo para adquirentes jurídicos.
func ValidateNITVerificationDigit(taxID string) error {
	digits := extractDigits(taxID)
	if len(digits) < 9 {
		return fmt.Errorf("fiscal: NIT debe tener al menos 9 dígitos, se encontraron %d", len(digits))
	}
	if len(digits) == 9 {
		return nil
	}
	base := digits[:9]
	var sum int
	for i, d := range base {
		sum += int(d-'0') * nitWeights[i]
	}
	remainder := sum % 11
	var expected byte
	if remainder == 0 || remainder == 1 {
		expected = byte('0' + remainder)
	} else {
		expected = byte('0' + (11 - remainder))
	}
	if digits[9] != expected {
		return fmt.Errorf("fiscal: dígito de verificación del NIT inválido: esperado %c, recibido %c", expected, digits[9])
	}
	return nil
}

// extractDigits devuelve solo los dígitos de s, en orden.
func extractDigits(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return string(out)
}
