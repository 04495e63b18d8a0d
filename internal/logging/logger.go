// Package logging builds the logr.Logger astrodeploy passes to every component.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// New returns a zap backed logger for level (debug, info, warn, error) and format
// (console, json) writing to w.
func New(level, format string, w io.Writer) (logr.Logger, error) {
	opts := crzap.Options{DestWriter: w}
	var zapLevel zapcore.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		opts.Development = true
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("unknown log level %q (expected debug, info, warn, or error)", level)
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "console", "":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		opts.Encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		opts.Encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return logr.Logger{}, fmt.Errorf("unknown log format %q (expected console or json)", format)
	}
	return crzap.New(crzap.UseFlagOptions(&opts)), nil
}
