package main

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQTTHandlePayload(t *testing.T) {
	g := newTestGateway(t, &fakeSender{})
	r := &mqttRunner{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		queue:  g,
	}

	require.NoError(t, r.handlePayload([]byte(`{"id":"m1","to":"+1234567890","message":"hello"}`)))
	job, ok := g.Status("m1")
	require.True(t, ok)
	assert.Equal(t, JobQueued, job.State)

	assert.ErrorIs(t, r.handlePayload([]byte(`{"to":"+1234567890"}`)), ErrInvalidRequest)
	assert.ErrorIs(t, r.handlePayload([]byte(`{"id":"m1","to":"+1","message":"x"}`)), ErrDuplicateJob)
	assert.Error(t, r.handlePayload([]byte(`not json`)))
	assert.Equal(t, 1, g.Pending())
}

func TestDefaultClientID(t *testing.T) {
	id := defaultClientID()
	assert.True(t, strings.HasPrefix(id, "modemchat-"), id)
	assert.LessOrEqual(t, len(id), len("modemchat-")+12)
	assert.Greater(t, len(id), len("modemchat-"))
}

func TestNewMQTTRunner(t *testing.T) {
	config, err := LoadConfig(WithDefaults(), func(c *Config) error {
		c.MQTTBroker = "tcp://localhost:1883"
		c.MQTTClientID = "gw-1"
		return nil
	})
	require.NoError(t, err)

	urcs := make(chan string)
	r := newMQTTRunner(slog.Default(), config, newTestGateway(t, &fakeSender{}), urcs)
	assert.Equal(t, "MQTT", r.String())
	assert.Equal(t, "sms/send", r.topic)
	assert.Equal(t, "sms/urc", r.urcTopic)
	assert.False(t, r.client.IsConnected())
}
