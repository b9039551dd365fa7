// Package logger holds the process-wide zap logger of the ablate command.
package logger

import "go.uber.org/zap"
import "go.uber.org/zap/zapcore"

// Standard field names for structured logging.
const (
	FieldDevice    = "device"
	FieldTensor    = "tensor"
	FieldTensors   = "tensors"
	FieldShape     = "shape"
	FieldBlocks    = "blocks"
	FieldStrength  = "strength"
	FieldFile      = "file"
	FieldScheme    = "scheme"
	FieldDuration  = "duration_ms"
	FieldComponent = "component"
)

// Logger is the global sugared logger. It discards everything until Initialize is called.
var Logger = zap.NewNop().Sugar()

// Initialize replaces Logger with a console logger on stderr. Verbose
// enables debug output.
func Initialize(verbose bool) error {
	cfg := zap.NewDevelopmentConfig()
	cfg.Encoding = "console"
	cfg.DisableStacktrace = !verbose
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.TimeKey = ""
	cfg.EncoderConfig.CallerKey = ""
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = l.Sugar()
	return nil
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.Logger {
	return Logger.Desugar().With(zap.String(FieldComponent, component))
}

// Sync flushes buffered log entries.
func Sync() {
	_ = Logger.Sync()
}
