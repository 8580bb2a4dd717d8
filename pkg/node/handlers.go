package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/pkg/consensus"
)

// Healthz returns 200 OK to indicate the process is serving.
func (n *Node) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, "ok")
}

// Info writes a JSON payload with the process ID, current time and the node identity.
func (n *Node) Info(w http.ResponseWriter, _ *http.Request) {
	type resp struct {
		PID     int       `json:"pid"`
		Now     time.Time `json:"now"`
		ID      int       `json:"id"`
		N       int       `json:"n"`
		F       int       `json:"f"`
		Faulty  bool      `json:"faulty"`
		Running bool      `json:"running"`
		Addr    string    `json:"addr"`
	}
	id := n.c.Identity()
	writeJSON(w, resp{
		PID:     os.Getpid(),
		Now:     time.Now(),
		ID:      id.ID,
		N:       id.N,
		F:       id.F,
		Faulty:  id.Faulty,
		Running: n.c.Running(),
		Addr:    n.addr,
	})
}

// Status reports "live", or "faulty" with a 500 for faulty and killed nodes.
func (n *Node) Status(w http.ResponseWriter, _ *http.Request) {
	if err := n.c.Live(); err != nil {
		writeText(w, http.StatusInternalServerError, "faulty")
		return
	}
	writeText(w, http.StatusOK, "live")
}

// Message accepts a vote from a peer.
func (n *Node) Message(w http.ResponseWriter, req *http.Request) {
	var v consensus.Vote
	if err := json.NewDecoder(req.Body).Decode(&v); err != nil {
		writeText(w, http.StatusBadRequest, "bad json")
		return
	}
	if err := n.c.Receive(v); err != nil {
		if errors.Is(err, consensus.ErrFaulty) {
			writeText(w, http.StatusInternalServerError, "faulty")
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeText(w, http.StatusOK, "Message received")
}

// Stop kills the node.
func (n *Node) Stop(w http.ResponseWriter, _ *http.Request) {
	n.c.Kill()
	writeText(w, http.StatusOK, "Node stopped")
}

// State writes the node state as JSON.
func (n *Node) State(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, n.c.Snapshot())
}

// Start runs the round loop and answers once it terminates. The loop is
// detached from the client connection; only a kill ends it early.
func (n *Node) Start(w http.ResponseWriter, req *http.Request) {
	outcome, err := n.c.Run(context.WithoutCancel(req.Context()))
	switch {
	case errors.Is(err, consensus.ErrFaulty):
		writeText(w, http.StatusInternalServerError, "faulty")
		return
	case errors.Is(err, consensus.ErrRunning):
		writeText(w, http.StatusConflict, "already running")
		return
	case err != nil:
		n.log.Warn("round loop ended with error", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	n.log.Debug("start finished", zap.Stringer("outcome", outcome))
	writeText(w, http.StatusOK, "Consensus algorithm started")
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// writeText sends body verbatim. Peers compare these bodies exactly, so
// unlike http.Error no newline is appended.
func writeText(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	w.Write([]byte(body))
}
