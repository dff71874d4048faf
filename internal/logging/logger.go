// Package logging builds the process logger from configuration and carries
// per-request and per-caller IDs through context loggers.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/tpmguard/internal/config"
)

type ctxKey string

// Context keys.
const (
	RequestIDKey ctxKey = "request_id"
	CallerIDKey  ctxKey = "caller_id"
)

// NewLogger creates a zerolog.Logger from LoggingConfig.
func NewLogger(cfg config.LoggingConfig) (zerolog.Logger, error) {
	output, outputFile, err := selectOutput(cfg.Output)
	if err != nil {
		return zerolog.Logger{}, err
	}

	if shouldUsePretty(cfg, outputFile) {
		output = buildConsoleWriter(output)
	}

	return zerolog.New(output).
		Level(cfg.ParseLevel()).
		With().
		Timestamp().
		Logger(), nil
}

// Setup builds the logger and installs it as the global and default context logger.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging: %w", err)
	}

	Install(logger)
	return logger, nil
}

// Install makes logger the global and default context logger.
func Install(logger zerolog.Logger) {
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger
}

// selectOutput returns the output writer and file handle for the given output config.
func selectOutput(outputCfg string) (io.Writer, *os.File, error) {
	switch outputCfg {
	case "", "stdout":
		return os.Stdout, os.Stdout, nil
	case "stderr":
		return os.Stderr, os.Stderr, nil
	default:
		f, err := os.OpenFile(filepath.Clean(outputCfg), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
}

// shouldUsePretty reports whether console formatting applies.
// console/text (and unset) auto-detect a terminal.
func shouldUsePretty(cfg config.LoggingConfig, outputFile *os.File) bool {
	if cfg.Pretty {
		return true
	}

	switch cfg.Format {
	case "pretty":
		return true
	case "json":
		return false
	default:
		return outputFile != nil && isatty.IsTerminal(outputFile.Fd())
	}
}

func buildConsoleWriter(output io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:             output,
		TimeFormat:      "15:04:05",
		FormatLevel:     formatLevel,
		FormatMessage:   formatMessage,
		FormatFieldName: formatFieldName,
		FormatFieldValue: func(i any) string {
			return fmt.Sprintf("%v", i)
		},
	}
}

var levelColors = map[string]string{
	"debug": "\033[36mDBG\033[0m", // Cyan
	"info":  "\033[32mINF\033[0m", // Green
	"warn":  "\033[33mWRN\033[0m", // Yellow
	"error": "\033[31mERR\033[0m", // Red
	"fatal": "\033[35mFTL\033[0m", // Magenta
	"panic": "\033[35mPNC\033[0m", // Magenta
}

func formatLevel(i any) string {
	levelStr, ok := i.(string)
	if !ok {
		return ""
	}
	if colored, exists := levelColors[levelStr]; exists {
		return colored
	}
	return levelStr
}

func formatMessage(i any) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("-> %s", i)
}

func formatFieldName(i any) string {
	return fmt.Sprintf("\033[2m%s=\033[0m", i) // Dim
}

// AddRequestID stores requestID (or a fresh UUID when empty) in ctx and in the
// context logger.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return withID(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}

// AddCallerID tags ctx with a caller ID, generating one when empty.
// Used by the simulator to tell concurrent callers apart in logs.
func AddCallerID(ctx context.Context, callerID string) context.Context {
	return withID(ctx, CallerIDKey, callerID)
}

// GetCallerID retrieves the caller ID from context.
func GetCallerID(ctx context.Context) string {
	id, _ := ctx.Value(CallerIDKey).(string)
	return id
}

func withID(ctx context.Context, key ctxKey, id string) context.Context {
	if id == "" {
		id = uuid.New().String()
	}

	ctx = context.WithValue(ctx, key, id)
	logger := log.Ctx(ctx).With().Str(string(key), id).Logger()
	return logger.WithContext(ctx)
}
