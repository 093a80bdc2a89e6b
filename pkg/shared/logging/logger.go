package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger with a WithFields helper so call sites can log
// against the chainable Fields builder without hand-converting field lists.
type Logger struct {
	*zap.Logger
}

// Config controls logger construction.
type Config struct {
	Level     string // debug|info|warn|error
	Format    string // json|console
	Component string
}

// New builds a Logger from Config. Unknown levels default to info; unknown
// formats default to json.
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var encoderCfg = zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(zapWriter()), level)
	base := zap.New(core, zap.AddCaller())
	if cfg.Component != "" {
		base = base.With(zap.String("component", cfg.Component))
	}
	return &Logger{Logger: base}, nil
}

// NewNop returns a Logger that discards everything, for tests.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithFields returns the underlying zap logger with the given Fields
// attached. It logs nothing itself; the caller picks the level.
func (l *Logger) WithFields(fields Fields) *zap.Logger {
	return l.Logger.With(fields.ToZapFields()...)
}
