package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name: "valid config",
			config: &Config{
				Level:       "info",
				Format:      "json",
				Output:      "stdout",
				ServiceName: "test-service",
				Version:     "1.0.0",
			},
			wantErr: false,
		},
		{
			name: "invalid log level",
			config: &Config{
				Level:  "invalid",
				Format: "json",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name: "invalid format",
			config: &Config{
				Level:  "info",
				Format: "invalid",
				Output: "stdout",
			},
			wantErr: true,
		},
		{
			name:    "nil config uses defaults",
			config:  nil,
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, logger)
			}
		})
	}
}

func TestLogger_ServiceFields(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.Info("hello", "key", "value")

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "test-service", record["service"])
	assert.Equal(t, "1.0.0", record["version"])
	assert.Equal(t, "value", record["key"])
	assert.Equal(t, "hello", record["message"])
}

func TestLogger_LogNotificationEvent(t *testing.T) {
	var buf bytes.Buffer

	logger, err := NewLogger(&Config{
		Level:       "info",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "1.0.0",
	})
	require.NoError(t, err)
	logger.SetOutput(&buf)

	logger.LogNotificationEvent("enqueued", "abc123", "critical", nil)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "enqueued", record["event"])
	assert.Equal(t, "abc123", record["notification_id"])
	assert.Equal(t, "critical", record["priority"])
}

func TestGetLogger(t *testing.T) {
	logger := GetLogger()
	assert.NotNil(t, logger)

	custom, err := NewLogger(nil)
	require.NoError(t, err)
	SetGlobalLogger(custom)
	assert.Same(t, custom, GetLogger())
}
