package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextDefaultsToSlogDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := ToContext(context.Background(), base)
	ctx = WithTrace(ctx, "abc123")
	ctx = With(ctx, "product_id", 7)

	FromContext(ctx).Info("orchestrator: run started")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "abc123", record["trace_id"])
	assert.Equal(t, float64(7), record["product_id"])
	assert.Equal(t, "orchestrator: run started", record["msg"])
	assert.Equal(t, "abc123", TraceID(ctx))
	assert.Empty(t, TraceID(context.Background()))
}

func TestSetupProdUsesJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	Setup("prod", &buf)
	slog.Info("server: started", "port", 28081)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, float64(28081), record["port"])
}
