package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ryandielhenn/benor/internal/telemetry"
	"github.com/ryandielhenn/benor/pkg/consensus"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// clusterFlags are shared by every subcommand.
type clusterFlags struct {
	n, f          int
	host          string
	basePort      int
	legacyWait    bool
	quorumTimeout time.Duration
	logLevel      string
	devLog        bool
}

func newRootCmd() *cobra.Command {
	cf := &clusterFlags{}
	root := &cobra.Command{
		Use:          "server",
		Short:        "Ben-Or randomized binary consensus node",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			telemetry.SetBuildInfo(version, gitSHA)
		},
	}

	pf := root.PersistentFlags()
	pf.IntVarP(&cf.n, "nodes", "n", envInt("NODE_COUNT", 4), "total number of nodes N")
	pf.IntVarP(&cf.f, "faults", "f", envInt("FAULT_COUNT", 1), "number of tolerated faulty nodes F")
	pf.StringVar(&cf.host, "host", envStr("NODE_HOST", "localhost"), "host every node listens on")
	pf.IntVar(&cf.basePort, "base-port", envInt("BASE_PORT", 3000), "node i listens on base-port+i")
	pf.BoolVar(&cf.legacyWait, "legacy-wait", envBool("LEGACY_WAIT", false), "pause a fixed 50ms after each broadcast instead of waiting for a quorum")
	pf.DurationVar(&cf.quorumTimeout, "quorum-timeout", consensus.DefaultWait().Timeout, "upper bound on a quorum wait")
	pf.StringVar(&cf.logLevel, "log-level", envStr("LOG_LEVEL", "info"), "debug, info, warn or error")
	pf.BoolVar(&cf.devLog, "dev-log", false, "human-readable logs")

	root.AddCommand(newNodeCmd(cf), newClusterCmd(cf))
	return root
}

func (cf *clusterFlags) validate() error {
	if cf.n <= 0 {
		return fmt.Errorf("--nodes must be positive, got %d", cf.n)
	}
	if cf.f < 0 || cf.f > cf.n {
		return fmt.Errorf("--faults must be in [0, %d], got %d", cf.n, cf.f)
	}
	return nil
}

func (cf *clusterFlags) wait() consensus.WaitPolicy {
	if cf.legacyWait {
		return consensus.LegacyWait()
	}
	w := consensus.DefaultWait()
	w.Timeout = cf.quorumTimeout
	return w
}

func (cf *clusterFlags) logger() (*zap.Logger, error) {
	return telemetry.NewLogger(cf.logLevel, cf.devLog)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
