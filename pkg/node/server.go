package node

import (
	"context"
	"errors"
	"net"
	"net/http"

	"go.uber.org/zap"
)

// Serve runs the node's router on ln until ctx is cancelled. On shutdown the
// node is killed so a round loop in flight stops at its next round boundary.
func (n *Node) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler: n.Router(),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			n.c.Kill()
			_ = srv.Close()
		}
	}()

	n.log.Info("listening", zap.Stringer("addr", ln.Addr()))
	if err := srv.Serve(ln); err != nil {
		if errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed) {
			n.log.Info("HTTP server shutting down")
			return nil
		}
		n.log.Info("HTTP server shutting down due to error", zap.Error(err))
		return err
	}
	return nil
}
