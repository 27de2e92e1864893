// Package logger configures the module's zerolog sink and exposes
// per-component sub-loggers.
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	appctx "github.com/localsync/syncengine/internal/pkg/context"
)

// Base is the process-wide logger. Init mutates it in place so packages
// that captured Base before Init still observe the configured level/format.
var Base zerolog.Logger

func init() {
	Base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// Init configures Base from LOG_LEVEL/LOG_FORMAT, mirroring the teacher's
// two-env-var logger bootstrap.
func Init() {
	level, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = zerolog.InfoLevel
	}

	if os.Getenv("LOG_FORMAT") == "console" {
		Base = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
		return
	}

	Base = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// Component returns a sub-logger tagged with the owning package name.
func Component(name string) zerolog.Logger {
	return Base.With().Str("component", name).Logger()
}

// WithCtx attaches the request id carried on ctx, if any.
func WithCtx(ctx context.Context) zerolog.Logger {
	rid := appctx.GetRequestID(ctx)
	if rid == "" {
		return Base
	}
	return Base.With().Str("request_id", rid).Logger()
}
