package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ryandielhenn/benor/pkg/consensus"
	"github.com/ryandielhenn/benor/pkg/node"
	"github.com/ryandielhenn/benor/pkg/peer"
)

func newClusterCmd(cf *clusterFlags) *cobra.Command {
	var (
		values string
		faulty []int
	)
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Run N nodes in this process, node i on base-port+i",
		Example: `  server cluster -n 4 -f 1 --values 1,1,1,1
  server cluster -n 4 -f 1 --values 0 --faulty 3`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cf.validate(); err != nil {
				return err
			}
			initial, err := parseValues(values, cf.n)
			if err != nil {
				return err
			}
			isFaulty := make([]bool, cf.n)
			for _, i := range faulty {
				if i < 0 || i >= cf.n {
					return fmt.Errorf("--faulty ordinal %d out of range [0, %d)", i, cf.n)
				}
				isFaulty[i] = true
			}
			log, err := cf.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCluster(ctx, log, cf, initial, isFaulty)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&values, "values", envStr("INITIAL_VALUES", "1"), "comma separated initial values, or a single value for every node")
	fl.IntSliceVar(&faulty, "faulty", nil, "ordinals of permanently faulty nodes")
	return cmd
}

// runCluster binds every listener before serving any of them, so each node
// can accept votes by the time a driver starts the first one.
func runCluster(ctx context.Context, log *zap.Logger, cf *clusterFlags, initial []consensus.Value, faulty []bool) error {
	resolver := peer.Ports{Host: cf.host, Base: cf.basePort}
	nodes := make([]*node.Node, cf.n)
	listeners := make([]net.Listener, cf.n)
	for i := range nodes {
		id := consensus.Identity{ID: i, N: cf.n, F: cf.f, Faulty: faulty[i]}
		addr, _ := resolver.Addr(i)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners[:i] {
				l.Close()
			}
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		listeners[i] = ln
		c := consensus.NewNode(consensus.Config{
			Identity:  id,
			Initial:   initial[i],
			Transport: peer.NewHTTPTransport(id, resolver, nil, log),
			Wait:      cf.wait(),
			Logger:    log,
		})
		nodes[i] = node.NewNode(c, addr, log)
	}
	log.Info("cluster ready", zap.Int("n", cf.n), zap.Int("f", cf.f), zap.Int("base_port", cf.basePort))

	g, gctx := errgroup.WithContext(ctx)
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error { return n.Serve(gctx, listeners[i]) })
	}
	return g.Wait()
}

func parseValues(s string, n int) ([]consensus.Value, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 1 && len(parts) != n {
		return nil, fmt.Errorf("--values needs 1 or %d entries, got %d", n, len(parts))
	}
	out := make([]consensus.Value, n)
	for i := range out {
		p := parts[0]
		if len(parts) == n {
			p = parts[i]
		}
		v, err := consensus.ParseValue(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}
