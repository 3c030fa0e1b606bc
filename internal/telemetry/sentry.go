package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

// SentryConfig controls optional error-tracking capture. Grounded on the
// teacher's services/api/internal/sentry/sentry.go: a DSN-gated client that
// degrades to a no-op when unset, rather than failing startup.
type SentryConfig struct {
	DSN         string
	Environment string
	Release     string
}

// InitSentry initializes the global Sentry client when cfg.DSN is set. A
// blank DSN is not an error: callers proceed with error capture disabled,
// matching the teacher's graceful-degrade pattern.
func InitSentry(cfg SentryConfig, log *logrus.Logger) error {
	if cfg.DSN == "" {
		if log != nil {
			log.Debug("sentry DSN not configured, error tracking disabled")
		}
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
		TracesSampleRate: 0,
	})
}

// CaptureError reports err to Sentry (a no-op if InitSentry was never called
// with a DSN) and tags it with the given fields, mirroring the
// BlockWatcherError / notifier-DLQ capture points spec.md §7 describes as
// "terminate the process" boundaries plus best-effort notifier failures.
func CaptureError(err error, fields map[string]string) {
	if err == nil {
		return
	}
	hub := sentry.CurrentHub().Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		for k, v := range fields {
			scope.SetTag(k, v)
		}
	})
	hub.CaptureException(err)
}

// FlushSentry blocks up to timeout waiting for queued events to send,
// called once during graceful shutdown.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}
