package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"grid_trader/internal/core"
	"grid_trader/pkg/concurrency"
	"grid_trader/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

func newManager(t *testing.T) (*AlertManager, *concurrency.WorkerPool) {
	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{Name: "alerts", MaxWorkers: 2}, logging.NewNopLogger())
	return NewAlertManager(pool, logging.NewNopLogger()), pool
}

var _ core.IAlerter = (*AlertManager)(nil)

func TestAlertManager_Alert(t *testing.T) {
	am, pool := newManager(t)
	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}
	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Test Alert", "This is a test", Info, map[string]string{"key": "value"})
	pool.Stop()

	sent1 := ch1.getSent()
	require.Len(t, sent1, 1)
	assert.Len(t, ch2.getSent(), 1)
	assert.Equal(t, "Test Alert", sent1[0].Title)
	assert.Equal(t, Info, sent1[0].Level)
	assert.Equal(t, "value", sent1[0].Fields["key"])
}

func TestAlertManager_ChannelErrorDoesNotBlockOthers(t *testing.T) {
	am, pool := newManager(t)
	failing := &mockAlertChannel{name: "failing", sendFunc: func(ctx context.Context, alert AlertPayload) error {
		return errors.New("webhook down")
	}}
	ok := &mockAlertChannel{name: "ok"}
	am.AddChannel(failing)
	am.AddChannel(ok)

	am.Notify(context.Background(), "Grid order filled", "SELL 1 ETH/EUR @ 2000", nil)
	pool.Stop()

	assert.Len(t, failing.getSent(), 1)
	assert.Len(t, ok.getSent(), 1)
}

func TestAlertManager_DeliveryOutlivesCallerContext(t *testing.T) {
	am, pool := newManager(t)
	var ctxErr error
	ch := &mockAlertChannel{name: "ctx", sendFunc: func(ctx context.Context, alert AlertPayload) error {
		ctxErr = ctx.Err()
		return nil
	}}
	am.AddChannel(ch)

	ctx, cancel := context.WithCancel(context.Background())
	am.Notify(ctx, "Grid engine stopped", "authentication failed", nil)
	cancel()
	pool.Stop()

	require.Len(t, ch.getSent(), 1)
	assert.NoError(t, ctxErr)
}

func TestNotify_InfersLevel(t *testing.T) {
	assert.Equal(t, Critical, levelFor("Grid engine stopped"))
	assert.Equal(t, Error, levelFor("Order placement failed"))
	assert.Equal(t, Warning, levelFor("Balance warning"))
	assert.Equal(t, Info, levelFor("Grid order filled"))
}

func TestSlackChannel_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL + "/services/T000/B000/XXX")
	err := ch.Send(context.Background(), AlertPayload{
		Level:     Critical,
		Title:     "Grid engine stopped",
		Message:   "authentication failed",
		Timestamp: time.Unix(1700000000, 0),
		Fields:    map[string]string{"pair": "ETH/EUR"},
	})
	require.NoError(t, err)

	attachments := got["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	att := attachments[0].(map[string]interface{})
	assert.Equal(t, "#8b0000", att["color"])
	assert.Equal(t, "[CRITICAL] Grid engine stopped", att["pretext"])
	assert.Equal(t, "authentication failed", att["text"])
}

func TestSlackChannel_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlackChannel(srv.URL).Send(context.Background(), AlertPayload{Title: "x", Timestamp: time.Now()})
	assert.Error(t, err)
}

func TestSlackChannel_EmptyURLIsNoop(t *testing.T) {
	assert.NoError(t, NewSlackChannel("").Send(context.Background(), AlertPayload{Title: "x"}))
}

func TestLogChannel_Send(t *testing.T) {
	ch := NewLogChannel(logging.NewNopLogger())
	for _, level := range []AlertLevel{Info, Warning, Error, Critical} {
		assert.NoError(t, ch.Send(context.Background(), AlertPayload{Level: level, Title: "t", Fields: map[string]string{"k": "v"}}))
	}
}
