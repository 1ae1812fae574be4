package logger

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/zpskt/keen/internal/config"
)

// Level file names inside the log directory.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled printf-style logging (debug/info/warning/error) to
// rotated per-level files and stdout/stderr.
type Logger struct {
	sugar  *zap.SugaredLogger
	logDir string
}

// NewLogger creates a Logger and ensures the log directory exists.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, errors.Wrapf(err, "unknown log level %q", cfg.Level)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	console := zapcore.NewConsoleEncoder(encoderCfg)

	atLeast := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level })
	belowError := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l < zapcore.ErrorLevel })
	errorsOnly := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })

	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(os.Stdout), belowError),
		zapcore.NewCore(console, zapcore.Lock(os.Stderr), errorsOnly),
	}

	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create log directory")
		}
		file := zapcore.NewJSONEncoder(encoderCfg)
		exact := func(want zapcore.Level) zap.LevelEnablerFunc {
			return func(l zapcore.Level) bool { return l >= level && l == want }
		}
		cores = append(cores,
			zapcore.NewCore(file, rotated(cfg, InfoFile), atLeast),
			zapcore.NewCore(file, rotated(cfg, WarningFile), exact(zapcore.WarnLevel)),
			zapcore.NewCore(file, rotated(cfg, ErrorFile), errorsOnly),
		)
	}

	z := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	l := &Logger{sugar: z.Sugar()}
	if cfg.Enabled {
		l.logDir = cfg.Directory
	}
	return l, nil
}

func rotated(cfg config.LoggingConfig, name string) zapcore.WriteSyncer {
	maxMB := cfg.MaxBytes / (1024 * 1024)
	if maxMB < 1 {
		maxMB = 1
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name),
		MaxSize:    maxMB,
		MaxBackups: cfg.BackupCount,
	})
}

// FromZap wraps an existing zap logger, e.g. one built by zaptest.
func FromZap(z *zap.Logger) *Logger {
	return &Logger{sugar: z.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

// With returns a child logger carrying the given key/value pairs on every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(keysAndValues...), logDir: l.logDir}
}

// Debug writes a formatted debug-level log entry.
func (l *Logger) Debug(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Dir returns the directory holding the per-level files, empty when file
// logging is off.
func (l *Logger) Dir() string {
	return l.logDir
}

// CleanLogs truncates the named log file inside the log directory.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return errors.New("file logging is disabled")
	}
	filePath := filepath.Join(l.logDir, filepath.Base(fileName))
	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to truncate %s", fileName)
	}
	defer file.Close()

	l.Info("Log file %s has been cleared", fileName)
	return nil
}
