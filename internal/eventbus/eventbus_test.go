package eventbus

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/wordle-server/internal/metrics"
)

type collector struct {
	mu  sync.Mutex
	got []*Envelope
}

func (c *collector) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.got = append(c.got, ev)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope("node-1", "RoundShared", []byte("{}"))
	b := NewEnvelope("node-1", "RoundShared", []byte("{}"))
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
}

func TestMemoryBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var first, second collector
	_, err := bus.Subscribe(context.Background(), Filter{}, first.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(context.Background(), Filter{}, second.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", nil)))

	assert.Eventually(t, func() bool { return first.len() == 1 && second.len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return bus.Metrics().Consumed == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), bus.Metrics().Published)
}

func TestMemoryBusFilter(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var shares collector
	_, err := bus.Subscribe(context.Background(), Filter{Types: []string{"RoundShared"}}, shares.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "Other", nil)))
	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", nil)))

	assert.Eventually(t, func() bool { return shares.len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, shares.len())
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	var c collector
	sub, err := bus.Subscribe(context.Background(), Filter{}, c.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, c.len())
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(4)
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ErrorIs(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", nil)), ErrBusClosed)
	_, err := bus.Subscribe(context.Background(), Filter{}, func(context.Context, *Envelope) {})
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestMetricsExporterAddsDeltas(t *testing.T) {
	bus := NewMemoryBus(16)
	defer bus.Close()

	before := testutil.ToFloat64(metrics.BusPublished)
	exp := NewMetricsExporter(bus, time.Hour)
	exp.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", nil)))
	}
	exp.Stop()
	exp.Stop()

	assert.Equal(t, before+3, testutil.ToFloat64(metrics.BusPublished))
}

// Требует запущенный NATS: WORDLE_NATS_URL=nats://127.0.0.1:4222
func TestNATSBusRoundTrip(t *testing.T) {
	url := os.Getenv("WORDLE_NATS_URL")
	if url == "" {
		t.Skip("WORDLE_NATS_URL не задан")
	}

	bus, err := NewNATSBus(url, "wordle.test."+NewEnvelope("", "", nil).ID)
	require.NoError(t, err)
	defer bus.Close()

	var c collector
	_, err = bus.Subscribe(context.Background(), Filter{Types: []string{"RoundShared"}}, c.handle)
	require.NoError(t, err)
	require.NoError(t, bus.nc.Flush())

	require.NoError(t, bus.Publish(context.Background(), NewEnvelope("a", "RoundShared", []byte(`{"x":1}`))))
	assert.Eventually(t, func() bool { return c.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(1), bus.Metrics().Published)
}
