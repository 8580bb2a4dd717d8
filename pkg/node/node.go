package node

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/internal/telemetry"
	"github.com/ryandielhenn/benor/pkg/consensus"
	"github.com/ryandielhenn/benor/pkg/peer"
)

// Node exposes a consensus engine over HTTP.
type Node struct {
	c    *consensus.Node
	addr string
	log  *zap.Logger
}

func NewNode(c *consensus.Node, addr string, log *zap.Logger) *Node {
	if log == nil {
		log = zap.NewNop()
	}
	return &Node{
		c:    c,
		addr: addr,
		log:  log.With(zap.Int("node", c.Identity().ID)),
	}
}

func (n *Node) Addr() string {
	return n.addr
}

func (n *Node) Consensus() *consensus.Node {
	return n.c
}

// Router wires every endpoint, each instrumented under its own op label.
func (n *Node) Router() http.Handler {
	r := mux.NewRouter()
	route := func(path, op string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, telemetry.Instrument(op, h)).Methods(methods...)
	}

	route("/status", "status", n.Status, http.MethodGet)
	route(peer.MessagePath, "message", n.Message, http.MethodPost)
	route("/stop", "stop", n.Stop, http.MethodGet, http.MethodPost)
	route("/getState", "get_state", n.State, http.MethodGet)
	route("/start", "start", n.Start, http.MethodGet, http.MethodPost)
	route("/healthz", "healthz", n.Healthz, http.MethodGet)
	route("/info", "info", n.Info, http.MethodGet)
	r.Handle("/metrics", telemetry.MetricsHandler())
	return r
}
