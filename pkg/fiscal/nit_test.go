package fiscal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/fiscal-api/pkg/fiscal"
)

func TestValidateNITVerificationDigit(t *testing.T) {
	tests := []struct {
		name    string
		taxID   string
		wantErr bool
	}{
		{"NIT con DV correcto", "900373115-3", false},
		{"NIT con puntos y guion", "900.373.115-3", false},
		{"otro NIT válido", "860002964-4", false},
		{"sin DV se acepta", "900373115", false},
		{"DV errado", "900373115-7", true},
		{"muy corto", "12345", true},
		{"vacío", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fiscal.ValidateNITVerificationDigit(tt.taxID)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err, "NIT %q debería ser válido", tt.taxID)
			}
		})
	}
}
