package ws

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/looptrace/internal/api"
	"github.com/GriffinCanCode/looptrace/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/looptrace/internal/recorder"
	"github.com/GriffinCanCode/looptrace/internal/sandbox"
	"github.com/GriffinCanCode/looptrace/internal/store"
)

func dial(t *testing.T) (*websocket.Conn, *monitoring.Metrics) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	metrics := monitoring.NewMetricsWithRegistry(prometheus.NewRegistry())
	config := sandbox.DefaultConfig()
	config.SettleWindow = 30 * time.Millisecond
	rec, err := recorder.NewWithConfig(config, recorder.WithMetrics(metrics))
	require.NoError(t, err)
	t.Cleanup(func() { rec.Close() })

	runs := api.NewRuns(rec, store.NewSources(store.NewMemoryStore(), nil), time.Second)
	router := gin.New()
	router.GET("/stream", NewHandler(runs, metrics, nil).HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, metrics
}

func exchange(t *testing.T, conn *websocket.Conn, msg Message) Reply {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	return read(t, conn)
}

func read(t *testing.T, conn *websocket.Conn) Reply {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var reply Reply
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func strPtr(s string) *string { return &s }

func TestRunOverStream(t *testing.T) {
	conn, metrics := dial(t)

	started := exchange(t, conn, Message{Type: "run", Source: strPtr("console.log('1'); setTimeout(() => console.log('2'), 0)")})
	assert.Equal(t, "run_started", started.Type)

	reply := read(t, conn)
	require.Equal(t, "result", reply.Type, reply.Message)
	require.NotNil(t, reply.Result)
	assert.Equal(t, reply.RunID, reply.Result.RunID)
	assert.Equal(t, []string{"1", "2"}, reply.Result.Texts())
	assert.Len(t, reply.Result.MacroTrace, 1)

	status := exchange(t, conn, Message{Type: "status"})
	assert.Equal(t, "status", status.Type)
	require.NotNil(t, status.HasResult)
	assert.True(t, *status.HasResult)
	assert.Equal(t, reply.RunID, status.RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSMessages.WithLabelValues("out", "result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.WSConnections))
}

func TestRunSavedSourceOverStream(t *testing.T) {
	conn, _ := dial(t)

	exchange(t, conn, Message{Type: "run"})
	reply := read(t, conn)
	require.Equal(t, "result", reply.Type, reply.Message)
	assert.Len(t, reply.Result.Outputs, 7)
}

func TestResetOverStream(t *testing.T) {
	conn, _ := dial(t)

	exchange(t, conn, Message{Type: "run", Source: strPtr("console.log(1)")})
	read(t, conn)

	assert.Equal(t, "reset", exchange(t, conn, Message{Type: "reset"}).Type)

	status := exchange(t, conn, Message{Type: "status"})
	require.NotNil(t, status.HasResult)
	assert.False(t, *status.HasResult)
	assert.Empty(t, status.RunID)
}

func TestPingAndUnknown(t *testing.T) {
	conn, _ := dial(t)

	assert.Equal(t, "pong", exchange(t, conn, Message{Type: "ping"}).Type)

	reply := exchange(t, conn, Message{Type: "compile"})
	assert.Equal(t, "error", reply.Type)
	assert.Equal(t, 400, reply.Code)
	assert.Contains(t, reply.Message, "compile")
}

func TestFailedRunOverStream(t *testing.T) {
	conn, _ := dial(t)

	exchange(t, conn, Message{Type: "run", Source: strPtr("console.log(")})
	reply := read(t, conn)

	require.Equal(t, "result", reply.Type)
	require.NotNil(t, reply.Result.Failure)
	assert.Equal(t, "compile", string(reply.Result.Failure.Phase))
	require.Len(t, reply.Result.Console, 1)
}
