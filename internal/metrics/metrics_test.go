package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("protocol", time.Second)
	m.PacketReceived("login")
	m.PacketReceived("login")
	m.PacketsSent(3)
	m.BytesReceived(10)
	m.BytesSent(20)
	m.LoginCompleted("1.21")
	m.KeepAliveLatency(20 * time.Millisecond)
	m.SetPlayersOnline(5)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.sessionsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.packetsIn.WithLabelValues("login")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.packetsOut))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.disconnects.WithLabelValues("protocol")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues("1.21")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.playersOnline))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blockgate_sessions_total 2")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMetrics_Nil(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed("eof", time.Second)
	m.PacketReceived("play")
	m.PacketsSent(1)
	m.KeepAliveLatency(time.Millisecond)
	m.SetPlayersOnline(1)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
