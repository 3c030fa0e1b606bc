package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPError(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := NewHTTPError(cause, "request to %s failed", "https://rpc.example/")

	assert.Equal(t, KindTransport, err.Kind)
	assert.Equal(t, CodeHTTP, err.Code)
	assert.Contains(t, err.Error(), "request to https://rpc.example/ failed")
	assert.Contains(t, err.Error(), "dial tcp: timeout")
	assert.NotEmpty(t, err.TraceID)
}

func TestWrappingPreservesTraceID(t *testing.T) {
	inner := NewRPCError(nil, "eth_getLogs failed")
	outer := NewOtherError(inner, "pipeline stage failed")

	// NewOtherError always mints a fresh trace id (anyhow-style wrap rule),
	// while a kind constructor wrapping an existing AppError preserves it.
	wrapped := NewBlockWatcherOtherError(inner, "scheduler tick failed")
	assert.Equal(t, inner.TraceID, wrapped.TraceID)
	assert.NotEqual(t, inner.TraceID, outer.TraceID)
}

func TestUnwrapChain(t *testing.T) {
	inner := NewInvalidInputError("start > end")
	outer := NewFilterEvaluationError(inner, "could not filter block")

	require.True(t, Is(outer, KindFilter))
	unwrapped := errors.Unwrap(outer)
	require.NotNil(t, unwrapped)
	assert.True(t, Is(unwrapped, KindChainClient))
}

func TestNotifierErrorClassification(t *testing.T) {
	retryable := NewNotifierError(true, nil, "502 from webhook")
	terminal := NewNotifierError(false, nil, "400 from webhook")

	assert.True(t, retryable.Retryable)
	assert.False(t, terminal.Retryable)
	assert.Contains(t, retryable.Error(), "retryable:")
	assert.Contains(t, terminal.Error(), "terminal:")
}

func TestWithMetadata(t *testing.T) {
	err := NewDecodingError(nil, "could not decode log").
		WithMetadata("network", "ethereum-mainnet").
		WithMetadata("tx_hash", "0xabc")

	assert.Equal(t, "ethereum-mainnet", err.Metadata["network"])
	assert.Equal(t, "0xabc", err.Metadata["tx_hash"])
}

func TestTraceIDOf(t *testing.T) {
	err := NewSchedulerError(nil, "cron spec invalid")
	id, ok := TraceIDOf(err)
	require.True(t, ok)
	assert.Equal(t, err.TraceID, id)

	_, ok = TraceIDOf(errors.New("plain error"))
	assert.False(t, ok)
}
