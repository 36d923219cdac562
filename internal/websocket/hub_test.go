package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/session"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case raw, ok := <-c.Send:
		require.True(t, ok, "client channel closed")
		var m Message
		require.NoError(t, json.Unmarshal(raw, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return Message{}
	}
}

func TestHubBroadcastsObservations(t *testing.T) {
	h := runHub(t)
	c := &Client{Hub: h, Send: make(chan []byte, 8)}
	h.RegisterClient(c)

	h.ObserveSample("cage1", data.Sample{ProducerTimestamp: 1, DeviceTimestamp: 2, Count: 3})
	m := receive(t, c)
	require.Equal(t, "sample", m.Type)
	require.Equal(t, "cage1", m.Session)
	require.Equal(t, map[string]any{"pc_timestamp": 1.0, "arduino_timestamp": 2.0, "count": 3.0}, m.Payload)

	h.ObserveStatus(session.Status{ID: "cage1", State: session.Recording})
	m = receive(t, c)
	require.Equal(t, "status", m.Type)
	require.Equal(t, "recording", m.Payload.(map[string]any)["state"])

	h.BroadcastAlert(data.Alert{SessionID: "cage1", Message: "hi"})
	m = receive(t, c)
	require.Equal(t, "alert", m.Type)
}

func TestHubDropsBlockedClient(t *testing.T) {
	h := runHub(t)
	slow := &Client{Hub: h, Send: make(chan []byte)}
	h.RegisterClient(slow)

	h.ObserveSample("cage1", data.Sample{Count: 1})

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-slow.Send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	h := NewHub(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { h.Run(ctx); close(done) }()

	c := &Client{Hub: h, Send: make(chan []byte, 1)}
	h.RegisterClient(c)
	cancel()
	<-done

	_, ok := <-c.Send
	require.False(t, ok)
}
