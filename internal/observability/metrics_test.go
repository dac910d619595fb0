package observability

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestDisabledCollectorIsInert(t *testing.T) {
	m, err := NewMetricsCollector(MetricsConfig{Enabled: false}, nil)
	require.NoError(t, err)

	// All record paths must be safe no-ops.
	m.RecordContextCreated(context.Background(), "free")
	m.RecordContextTerminated(context.Background(), "free", "user_request")
	m.RecordQuotaRejection(context.Background(), "free")
	m.RecordIsolationViolation(context.Background(), "route_event")
	m.RunStarted("user-a")
	m.RunFinished(time.Second, false, false)
	m.EventEmitted("agent_started")
	m.ToolExecuted("calculator", 10*time.Millisecond, true)
	m.SLABreached("agent_completed")
	m.FastRun(500 * time.Millisecond)

	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestEnabledCollectorRecords(t *testing.T) {
	m, err := NewMetricsCollector(MetricsConfig{Enabled: true}, nil)
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	m.RecordContextCreated(context.Background(), "enterprise")
	m.RunStarted("user-a")
	m.RunFinished(3*time.Second, true, false)
	m.EventEmitted("agent_completed")
	m.ToolExecuted("web_search", 120*time.Millisecond, true)
}

func TestScrapeServerStartsOnceAndFreesPortOnShutdown(t *testing.T) {
	m, err := NewMetricsCollector(MetricsConfig{Enabled: true}, nil)
	require.NoError(t, err)

	port := freePort(t)
	require.NoError(t, m.StartPrometheusServer(port))
	// A second start must not spawn a competing server on the same port.
	require.NoError(t, m.StartPrometheusServer(port))

	require.NoError(t, m.Shutdown(context.Background()))

	// The listener must actually be gone once Shutdown returns.
	var l net.Listener
	for attempt := 0; attempt < 20; attempt++ {
		l, err = net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, err, "scrape port still bound after shutdown")
	assert.NoError(t, l.Close())
}
