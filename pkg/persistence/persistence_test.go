// test module for package persistence

package persistence_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/webdeploy/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	indent     = "    " // Default indentation for JSON output (4 spaces)
	prefix     = ""     // Default prefix for JSON output
	sampleJSON = "{\n    \"key\": \"value\"\n}\n"
)

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteJSONToFile(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		data        any
		serializer  persistence.Serializer
		writer      persistence.Writer
		expectedErr bool
	}{
		{
			name:        "valid input",
			filename:    filepath.Join(t.TempDir(), "report.json"),
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: false,
		},
		{
			name:        "empty filename",
			filename:    "",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "serializer error",
			filename:    "report.json",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Err: fmt.Errorf("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			filename:    "report.json",
			data:        map[string]string{"key": "value"},
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: fmt.Errorf("write failed")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteJSONToFile(tt.data, tt.filename, tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				if writer, ok := tt.writer.(*MockWriter); ok {
					assert.Equal(t, sampleJSON, string(writer.Data[tt.filename]))
				}
			}
		})
	}
}

func TestJSONSerializer(t *testing.T) {
	b, err := persistence.JSONSerializer{Prefix: prefix, Indent: indent}.Marshal(map[string]string{"key": "value"})
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(b))
}

func TestWriteJSON(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "reports", "report.json")

	require.NoError(t, persistence.WriteJSON(map[string]string{"key": "old"}, filename))
	require.NoError(t, persistence.WriteJSON(map[string]string{"key": "value"}, filename))

	got, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(got))

	entries, err := os.ReadDir(filepath.Dir(filename))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileWriterNoOverwrite(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(filename, []byte("{}"), 0644))

	err := persistence.FileWriter{Overwrite: false}.Write(filename, []byte(sampleJSON))
	assert.ErrorIs(t, err, os.ErrExist)
}
