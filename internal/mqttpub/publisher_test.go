package mqttpub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/session"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu           sync.Mutex
	got          []published
	fail         error
	disconnected bool
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, published{topic, retained, payload.([]byte)})
	return doneToken{err: f.fail}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}

func (f *fakeClient) snapshot() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.got...)
}

func TestPublishesInOrder(t *testing.T) {
	client := &fakeClient{}
	p := New(client, "lab/wheels", time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { p.Run(ctx); close(done) }()

	p.ObserveStatus(session.Status{ID: "cage1", State: session.Monitoring})
	p.ObserveSample("cage1", data.Sample{ProducerTimestamp: 1.5, DeviceTimestamp: 0.25, Count: 4})
	p.ObserveSample("cage1", data.Sample{ProducerTimestamp: 2.5, DeviceTimestamp: 1.25, Count: 5})

	require.Eventually(t, func() bool { return len(client.snapshot()) == 3 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	got := client.snapshot()
	require.Equal(t, "lab/wheels/cage1/status", got[0].topic)
	require.True(t, got[0].retained)
	require.Equal(t, "lab/wheels/cage1/samples", got[1].topic)
	require.False(t, got[1].retained)

	var s data.Sample
	require.NoError(t, json.Unmarshal(got[2].payload, &s))
	require.Equal(t, data.Sample{ProducerTimestamp: 2.5, DeviceTimestamp: 1.25, Count: 5}, s)
	require.True(t, client.disconnected)
}

func TestPublishErrorDoesNotStopRun(t *testing.T) {
	client := &fakeClient{fail: errors.New("not connected")}
	p := New(client, "x", time.Second, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.ObserveSample("a", data.Sample{})
	p.ObserveSample("a", data.Sample{})
	require.Eventually(t, func() bool { return len(client.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestFullQueueDrops(t *testing.T) {
	p := New(&fakeClient{}, "x", time.Second, nil, nil)
	for i := 0; i < queueSize+10; i++ {
		p.ObserveSample("a", data.Sample{Count: int64(i)})
	}
	require.Len(t, p.queue, queueSize)
}
