package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/discovery"
	"github.com/ryandielhenn/benor/pkg/consensus"
	"github.com/ryandielhenn/benor/pkg/node"
	"github.com/ryandielhenn/benor/pkg/peer"
)

func newNodeCmd(cf *clusterFlags) *cobra.Command {
	var (
		id     int
		value  string
		faulty bool
		etcd   []string
	)
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a single consensus node on base-port+id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cf.validate(); err != nil {
				return err
			}
			if id < 0 || id >= cf.n {
				return fmt.Errorf("--id must be in [0, %d), got %d", cf.n, id)
			}
			initial, err := consensus.ParseValue(value)
			if err != nil {
				return err
			}
			log, err := cf.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runNode(ctx, log, cf, consensus.Identity{ID: id, N: cf.n, F: cf.f, Faulty: faulty}, initial, etcd)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&id, "id", envInt("NODE_ID", 0), "ordinal of this node in [0, N)")
	fl.StringVar(&value, "value", envStr("INITIAL_VALUE", "1"), "initial value: 0, 1 or ?")
	fl.BoolVar(&faulty, "faulty", envBool("FAULTY", false), "run as a permanently faulty node")
	fl.StringSliceVar(&etcd, "etcd", envList("ETCD_ENDPOINTS"), "etcd endpoints; when set, peers are resolved from etcd instead of base-port+i")
	return cmd
}

func runNode(ctx context.Context, log *zap.Logger, cf *clusterFlags, id consensus.Identity, initial consensus.Value, etcd []string) error {
	addr := net.JoinHostPort(cf.host, strconv.Itoa(cf.basePort+id.ID))

	var resolver peer.Resolver = peer.Ports{Host: cf.host, Base: cf.basePort}
	if len(etcd) > 0 {
		log.Info("creating etcd client", zap.Strings("endpoints", etcd))
		cli, err := discovery.NewClient(etcd)
		if err != nil {
			return fmt.Errorf("etcd client: %w", err)
		}
		defer cli.Close()

		r := discovery.NewResolver(log)
		rev, err := r.Load(ctx, cli)
		if err != nil {
			return err
		}
		go r.Watch(ctx, cli, rev)

		leaseID, cancel, err := discovery.RegisterNode(ctx, cli, id.ID, addr, 10)
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_, _ = cli.Revoke(rctx, leaseID)
		}()
		log.Info("registered with etcd", zap.String("key", discovery.Key(id.ID)), zap.String("addr", addr))
		resolver = r
	}

	c := consensus.NewNode(consensus.Config{
		Identity:  id,
		Initial:   initial,
		Transport: peer.NewHTTPTransport(id, resolver, nil, log),
		Wait:      cf.wait(),
		Logger:    log,
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return node.NewNode(c, addr, log).Serve(ctx, ln)
}
