package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapframe/internal/testutil"
	"github.com/leapstack-labs/leapframe/pkg/catalog"
	"github.com/leapstack-labs/leapframe/pkg/client"
	"github.com/leapstack-labs/leapframe/pkg/wire"
)

func TestWebSocketSession(t *testing.T) {
	logger := testutil.NewTestLogger(t)
	db := catalog.New(logger)
	srv := New(Config{DB: db, Codec: wire.MsgPack, Logger: logger})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := wire.DialWebSocket(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws")
	require.NoError(t, err)
	c := client.New(conn, client.Config{Codec: wire.MsgPack, Timeout: 5 * time.Second, Logger: logger})
	defer func() { _ = c.Terminate() }()

	q, err := c.Table(ctx, "t", map[string]any{"x": []int{1, 2, 3}}, "")
	require.NoError(t, err)
	got, err := q.Derive(map[string]any{"y": "d => d.x * 10"}).Fetch(ctx, client.FetchOptions{Format: "arrow"})
	require.NoError(t, err)
	y, ok := got.Column("y")
	require.True(t, ok)
	assert.Equal(t, []any{10.0, 20.0, 30.0}, y)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health struct {
		Status string   `json:"status"`
		Tables []string `json:"tables"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"t"}, health.Tables)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := New(Config{Logger: testutil.NewTestLogger(t)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	conn, err := wire.DialWebSocket(dialCtx, "ws://"+ln.Addr().String()+"/ws")
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
