package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextAddsQueryID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, "debug", "json"))

	ctx := WithQueryID(context.Background(), "q-42")
	FromContext(ctx, base).Debug("term evaluated", "term", "fox")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "q-42", line["query_id"])
	assert.Equal(t, "fox", line["term"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, "warn", "text"))

	FromContext(context.Background(), base).Info("hidden")
	assert.Zero(t, buf.Len())

	base.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
