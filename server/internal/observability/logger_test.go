package observability

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assetvault/server/internal/errors"
)

func newJSONLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	entry := map[string]any{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestRequestContextBaseFields(t *testing.T) {
	var buf bytes.Buffer
	reqCtx := NewRequestContextWithID(newJSONLogger(&buf), "", "hybrid_search", "org-1")
	require.NotEmpty(t, reqCtx.RequestID)

	reqCtx.Info("search done", slog.Int(LogFieldResultCount, 3), slog.Int64(LogFieldDuration, reqCtx.DurationMs()))

	entry := decodeLine(t, &buf)
	assert.Equal(t, reqCtx.RequestID, entry[LogFieldRequestID])
	assert.Contains(t, entry, LogFieldDuration)
	assert.Equal(t, "org-1", entry[LogFieldOrganizationID])
	assert.Equal(t, "hybrid_search", entry[LogFieldOperation])
	assert.Equal(t, float64(3), entry[LogFieldResultCount])
}

func TestRequestContextErrorCarriesCode(t *testing.T) {
	var buf bytes.Buffer
	reqCtx := NewRequestContextWithID(newJSONLogger(&buf), "req-1", "queue_embedding", "org-1")

	reqCtx.Error("queue failed", errors.Transient(stderrors.New("redis down"), "enqueue failed"))

	entry := decodeLine(t, &buf)
	assert.Equal(t, "req-1", entry[LogFieldRequestID])
	assert.Equal(t, string(errors.ErrCodeTransient), entry[LogFieldErrorCode])
}

func TestRequestContextWarn(t *testing.T) {
	var buf bytes.Buffer
	reqCtx := NewRequestContextWithID(newJSONLogger(&buf), "req-2", "hybrid_search", "org-3")

	reqCtx.Warn("rate limit exceeded")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "org-3", entry[LogFieldOrganizationID])
}

func TestRequestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	assert.NotNil(t, LoggerFromContext(context.Background()))

	reqCtx := NewRequestContextWithID(nil, "", "vector_search", "org-2")
	assert.NotEmpty(t, reqCtx.RequestID)

	ctx := WithRequestContext(context.Background(), reqCtx)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, reqCtx, got)
}
