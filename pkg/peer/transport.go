package peer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/benor/internal/telemetry"
	"github.com/ryandielhenn/benor/pkg/consensus"
)

// MessagePath is where every node accepts votes.
const MessagePath = "/message"

var errUnresolved = errors.New("no address for peer")

// HTTPTransport broadcasts votes as JSON over HTTP.
type HTTPTransport struct {
	self     int
	n        int
	resolver Resolver
	client   *http.Client
	log      *zap.Logger
	label    string
}

// NewHTTPTransport returns a transport for node id. A nil client gets a
// client with a 2s timeout, so no send outlives a slow peer for long.
func NewHTTPTransport(id consensus.Identity, r Resolver, client *http.Client, log *zap.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPTransport{
		self:     id.ID,
		n:        id.N,
		resolver: r,
		client:   client,
		log:      log.With(zap.Int("node", id.ID)),
		label:    telemetry.NodeLabel(id.ID),
	}
}

// Broadcast sends v to every ordinal but self and waits for all attempts.
// Failures are swallowed; the result counts acknowledged sends.
func (t *HTTPTransport) Broadcast(ctx context.Context, v consensus.Vote) int {
	body, err := json.Marshal(v)
	if err != nil {
		t.log.Error("encode vote", zap.Error(err))
		return 0
	}

	var (
		g    errgroup.Group
		acks atomic.Int32
	)
	for i := 0; i < t.n; i++ {
		i := i
		if i == t.self {
			continue
		}
		g.Go(func() error {
			if err := t.send(ctx, i, body); err != nil {
				telemetry.BroadcastFailures.WithLabelValues(t.label).Inc()
				t.log.Debug("send failed", zap.Int("peer", i), zap.Error(err))
				return nil
			}
			acks.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(acks.Load())
}

func (t *HTTPTransport) send(ctx context.Context, ordinal int, body []byte) error {
	addr, ok := t.resolver.Addr(ordinal)
	if !ok {
		return fmt.Errorf("peer %d: %w", ordinal, errUnresolved)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+MessagePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer %d: %s", ordinal, resp.Status)
	}
	return nil
}
