package vm

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the per-VM structured logger. Every subsystem logs
// through vm.Logger rather than fmt.Println, mirroring the reference
// platform's vm_log()/cpu_log() calls but with structured fields
// instead of a free-form category string.
func NewLogger(instanceName string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}).
		With().
		Timestamp().
		Str("vm", instanceName).
		Logger()
}
