package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWritesToProvidedOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf, NoColor: true, Level: slog.LevelDebug})
	logger.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	l := FromContext(context.Background())
	assert.NotNil(t, l)
}

func TestWithLoggerRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Output: &buf, NoColor: true})
	ctx := WithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
