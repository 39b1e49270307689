package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CERT-Polska/n6-sub011/errors"
)

func TestIsTerminal(t *testing.T) {
	base := fmt.Errorf("boom")

	tests := []struct {
		name     string
		err      error
		terminal bool
	}{
		{"fatal ends the run", errors.WrapFatal(base, "Parser", "Handle", "marshal"), true},
		{"anomaly ends the run", errors.WrapAnomaly(base, "Schema", "Apply", "row rejected"), true},
		{"transient is left to redelivery", errors.WrapTransient(base, "Publisher", "Publish", "publish"), false},
		{"row-level error is left to redelivery", errors.WrapInvalid(base, "Schema", "Apply", "bad row"), false},
		{"unclassified error is left to redelivery", base, false},
		{"transient wrapper wins over a fatal cause",
			errors.WrapTransient(
				errors.WrapFatal(base, "Registry", "Lookup", "no schema"),
				"Parser", "Handle", "schema lookup"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, isTerminal(tt.err))
		})
	}
}
