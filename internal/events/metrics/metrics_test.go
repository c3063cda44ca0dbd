// internal/events/metrics/metrics_test.go
package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/pzem-poller/internal/events"
	"github.com/tamzrod/pzem-poller/internal/status"
)

func TestEmitCountsByKind(t *testing.T) {
	e := NewExporter()

	e.Emit(events.Event{Kind: events.FlushFailed, BatchID: "b1", Count: 4, Attempt: 1})
	e.Emit(events.Event{Kind: events.FlushFailed, BatchID: "b1", Count: 4, Attempt: 2})
	e.Emit(events.Event{Kind: events.BatchDropped, BatchID: "b1", Count: 4, Attempt: 2, Err: errors.New("down")})
	e.Emit(events.Event{Kind: events.DeviceDegraded, Device: "battery", Bus: "bus0", Address: 3})

	assert.Equal(t, 2.0, testutil.ToFloat64(e.events.WithLabelValues("flush_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.events.WithLabelValues("batch_dropped")))
	assert.Equal(t, 4.0, testutil.ToFloat64(e.pointsDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.deviceEvents.WithLabelValues("battery", "bus0", "device_degraded")))
}

func TestSnapshotGauges(t *testing.T) {
	e := NewExporter()
	last := time.Unix(1700000000, 0)
	e.SetStatusSource(func() []status.Snapshot {
		return []status.Snapshot{
			{Device: "battery", Bus: "bus0", Address: 3, Health: status.HealthDegraded, ConsecutiveFailures: 4, LastSuccess: last},
			{Device: "solar", Bus: "bus0", Address: 4, Health: status.HealthUnknown},
		}
	})

	expected := `
# HELP pzem_device_consecutive_failures Failed reads since the last successful one.
# TYPE pzem_device_consecutive_failures gauge
pzem_device_consecutive_failures{address="3",bus="bus0",device="battery"} 4
pzem_device_consecutive_failures{address="4",bus="bus0",device="solar"} 0
# HELP pzem_device_health Device health: 0 unknown, 1 ok, 2 error, 3 degraded.
# TYPE pzem_device_health gauge
pzem_device_health{address="3",bus="bus0",device="battery"} 3
pzem_device_health{address="4",bus="bus0",device="solar"} 0
`
	require.NoError(t, testutil.GatherAndCompare(e.registry, strings.NewReader(expected),
		"pzem_device_health", "pzem_device_consecutive_failures"))

	n, err := testutil.GatherAndCount(e.registry, "pzem_device_last_success_timestamp_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "devices never read have no last success")
}

func TestNoStatusSource(t *testing.T) {
	e := NewExporter()
	n, err := testutil.GatherAndCount(e.registry, "pzem_device_health")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServerExposesMetrics(t *testing.T) {
	e := NewExporter()
	e.Emit(events.Event{Kind: events.BufferOverflow})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(ln.Addr().String(), "/metrics", e)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `pzem_events_total{kind="buffer_overflow"} 1`)
}
