package relay_test

import (
	"io"
	"log/slog"
	"time"

	buserrors "github.com/randalmurphal/eventbus/pkg/eventbus/errors"
)

var fastRetry = buserrors.RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     5 * time.Millisecond,
	BackoffFactor:  2,
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
