package queue_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"regci/internal/config"
	"regci/internal/queue"
)

func TestNotificationMessage_WireFormat(t *testing.T) {
	msg := queue.NotificationMessage{
		MessageID: 7,
		RunID:     42,
		Text:      "run 42 aborted",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, float64(7), fields["message_id"])
	assert.Equal(t, float64(42), fields["run_id"])
	assert.Equal(t, "run 42 aborted", fields["text"])
	assert.Equal(t, "2024-05-01T12:00:00Z", fields["created_at"])
}

func TestFromConfig_UnknownSink(t *testing.T) {
	conf := &config.RCConfig{}
	conf.Relay.Sink = "carrier-pigeon"

	client, sink, err := queue.FromConfig(conf)
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Equal(t, "carrier-pigeon", sink)
	assert.Contains(t, err.Error(), "unknown relay sink")
}
