package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvLogLevel adjusts the stderr verbosity. The file log always keeps
// debug so a support bundle has the full picture.
const EnvLogLevel = "SAFESPACE_LOG_LEVEL"

// New creates a zap logger that writes JSON to the given log file path
// and also writes to stderr. Session name and PID are included as initial fields.
func New(logPath, sessionName string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0700); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	fileCore := zapcore.NewCore(jsonEncoder, zapcore.AddSync(file), zapcore.DebugLevel)
	stderrCore := zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), StderrLevel())

	core := zapcore.NewTee(fileCore, stderrCore)

	logger := zap.New(core,
		zap.Fields(
			zap.String("session", sessionName),
			zap.Int("pid", os.Getpid()),
		),
	)

	return logger, nil
}

// StderrLevel returns the console log level, read from SAFESPACE_LOG_LEVEL.
// Unset or unparseable values fall back to info.
func StderrLevel() zapcore.Level {
	raw := os.Getenv(EnvLogLevel)
	if raw == "" {
		return zapcore.InfoLevel
	}
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
