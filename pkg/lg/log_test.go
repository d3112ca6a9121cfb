package lg

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContextFallback(t *testing.T) {
	assert.Equal(t, defaultLogger{}, FromContext(context.Background()))
}

func TestAttach(t *testing.T) {
	ctx := Attach(context.Background(), Discard)
	assert.Equal(t, Discard, FromContext(ctx))
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l := New(&Config{ServiceName: "webdeploy", Format: format})
		_, ok := l.(*zapLogger)
		assert.True(t, ok, format)
	}
	_, ok := New(&Config{ServiceName: "webdeploy", Format: "xml"}).(defaultLogger)
	assert.True(t, ok, "unknown encoding falls back to the standard logger")
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "", flatten())
	out := flatten(String("step", "upload"), Int("attempt", 2))
	assert.Contains(t, out, "upload")
	assert.Contains(t, out, "2")
}

func TestNewOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{ServiceName: "webdeploy", Format: "json", Output: &buf})
	l.Info("connected", String("remote", "10.0.0.1:22"))
	l.Debug("hidden")
	require.NoError(t, l.Sync())

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "connected", rec["msg"])
	assert.Equal(t, "webdeploy", rec["service"])
	assert.Equal(t, "10.0.0.1:22", rec["remote"])
	assert.NotContains(t, buf.String(), "hidden")
}
