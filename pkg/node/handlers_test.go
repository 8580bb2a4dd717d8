package node

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/benor/pkg/consensus"
)

type nopTransport struct{}

func (nopTransport) Broadcast(context.Context, consensus.Vote) int { return 0 }

func newTestNode(t *testing.T, id consensus.Identity, initial consensus.Value) (*Node, http.Handler) {
	t.Helper()
	log := zaptest.NewLogger(t)
	c := consensus.NewNode(consensus.Config{
		Identity:  id,
		Initial:   initial,
		Transport: nopTransport{},
		Logger:    log,
	})
	n := NewNode(c, "localhost:3000", log)
	return n, n.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	b, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(b)
}

func TestStatus(t *testing.T) {
	_, live := newTestNode(t, consensus.Identity{ID: 0, N: 4, F: 1}, consensus.One)
	code, body := do(t, live, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "live", body)

	_, faulty := newTestNode(t, consensus.Identity{ID: 1, N: 4, F: 1, Faulty: true}, consensus.One)
	code, body = do(t, faulty, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "faulty", body)

	code, _ = do(t, live, http.MethodGet, "/stop", "")
	require.Equal(t, http.StatusOK, code)
	code, body = do(t, live, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "faulty", body)
}

func TestMessage(t *testing.T) {
	n, h := newTestNode(t, consensus.Identity{ID: 0, N: 4, F: 1}, consensus.One)

	code, body := do(t, h, http.MethodPost, "/message", `{"round":0,"phase":1,"value":0}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "Message received", body)

	// A vote for another round is acknowledged but not kept.
	code, _ = do(t, h, http.MethodPost, "/message", `{"round":4,"phase":1,"value":0}`)
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, h, http.MethodPost, "/message", `{"round":0,"phase":9,"value":0}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPost, "/message", `{"round":0,"phase":1,"value":0,"from":4}`)
	require.Equal(t, http.StatusBadRequest, code)
	code, _ = do(t, h, http.MethodPost, "/message", `{"round":0,"phase":1,"value":0,"from":2147483648}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, body = do(t, h, http.MethodPost, "/message", `not json`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "bad json", body)

	code, _ = do(t, h, http.MethodGet, "/message", "")
	require.Equal(t, http.StatusMethodNotAllowed, code)

	n.Consensus().Kill()
	code, body = do(t, h, http.MethodPost, "/message", `{"round":0,"phase":1,"value":0}`)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "faulty", body)

	// Liveness is checked before the vote is validated.
	code, body = do(t, h, http.MethodPost, "/message", `{"round":0,"phase":9,"value":0}`)
	require.Equal(t, http.StatusInternalServerError, code)
	require.Equal(t, "faulty", body)
}

func TestGetState(t *testing.T) {
	_, h := newTestNode(t, consensus.Identity{ID: 0, N: 4, F: 1}, consensus.Zero)
	code, body := do(t, h, http.MethodGet, "/getState", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"killed":false,"x":0,"decided":false,"k":0}`, body)

	_, fh := newTestNode(t, consensus.Identity{ID: 3, N: 4, F: 1, Faulty: true}, consensus.Zero)
	code, body = do(t, fh, http.MethodGet, "/getState", "")
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"killed":false,"x":null,"decided":null,"k":null}`, body)

	do(t, fh, http.MethodGet, "/stop", "")
	_, body = do(t, fh, http.MethodGet, "/getState", "")
	require.JSONEq(t, `{"killed":true,"x":null,"decided":null,"k":null}`, body)
}

func TestStart(t *testing.T) {
	t.Run("runs to completion", func(t *testing.T) {
		_, h := newTestNode(t, consensus.Identity{ID: 0, N: 1, F: 0}, consensus.One)
		code, body := do(t, h, http.MethodGet, "/start", "")
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "Consensus algorithm started", body)

		_, body = do(t, h, http.MethodGet, "/getState", "")
		require.JSONEq(t, `{"killed":false,"x":1,"decided":true,"k":1}`, body)
	})

	t.Run("faulty is rejected", func(t *testing.T) {
		_, h := newTestNode(t, consensus.Identity{ID: 0, N: 4, F: 1, Faulty: true}, consensus.One)
		code, body := do(t, h, http.MethodGet, "/start", "")
		require.Equal(t, http.StatusInternalServerError, code)
		require.Equal(t, "faulty", body)
	})

	t.Run("killed is rejected without state change", func(t *testing.T) {
		_, h := newTestNode(t, consensus.Identity{ID: 0, N: 4, F: 1}, consensus.One)
		do(t, h, http.MethodGet, "/stop", "")
		code, _ := do(t, h, http.MethodGet, "/start", "")
		require.Equal(t, http.StatusInternalServerError, code)

		_, body := do(t, h, http.MethodGet, "/getState", "")
		require.JSONEq(t, `{"killed":true,"x":1,"decided":false,"k":0}`, body)
	})
}

func TestInfo(t *testing.T) {
	_, h := newTestNode(t, consensus.Identity{ID: 2, N: 4, F: 1}, consensus.One)
	code, body := do(t, h, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, code)

	var info struct {
		ID     int    `json:"id"`
		N      int    `json:"n"`
		F      int    `json:"f"`
		Faulty bool   `json:"faulty"`
		Addr   string `json:"addr"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &info))
	require.Equal(t, 2, info.ID)
	require.Equal(t, 4, info.N)
	require.Equal(t, 1, info.F)
	require.False(t, info.Faulty)
	require.Equal(t, "localhost:3000", info.Addr)

	code, body = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body)
}
