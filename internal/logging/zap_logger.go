// Package logging sets up the optional zap logger the gateway runs with in
// production: JSON output, lumberjack rotation, and a Sync hook for
// shutdown. logrus remains the default logger; zap is opted into via
// config.
package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	zapMu     sync.RWMutex
	zapLogger *zap.Logger
	zapSugar  *zap.SugaredLogger
)

func install(l *zap.Logger) {
	zapMu.Lock()
	defer zapMu.Unlock()
	zapLogger = l
	zapSugar = l.Sugar()
}

// Zap returns the installed logger, or nil before initialization.
func Zap() *zap.Logger {
	zapMu.RLock()
	defer zapMu.RUnlock()
	return zapLogger
}

// Sugar returns the installed sugared logger, or nil before initialization.
func Sugar() *zap.SugaredLogger {
	zapMu.RLock()
	defer zapMu.RUnlock()
	return zapSugar
}

// InitZapLoggerSimple installs a stdout-only logger: human-readable in
// debug mode, production JSON otherwise.
func InitZapLoggerSimple(debug bool) error {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	install(l)
	return nil
}

// ZapWithRotation installs a logger writing JSON to both stdout and a
// lumberjack-rotated file.
func ZapWithRotation(filePath string, maxSizeMB, maxBackups, maxAgeDays int, debug bool) error {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encCfg)

	rotator := &lumberjack.Logger{
		Filename:   filePath,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}

	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(rotator), level),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level),
	)

	opts := []zap.Option{zap.AddCaller()}
	if !debug {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	install(zap.New(core, opts...))
	return nil
}

// ZapSync flushes buffered entries; called from the shutdown path.
func ZapSync() error {
	l := Zap()
	if l == nil {
		return nil
	}
	return l.Sync()
}
