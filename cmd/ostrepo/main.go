package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
)

// globalOptions holds flags bound on the root command and shared by every
// subcommand.
type globalOptions struct {
	repoPath    string
	noProgress  bool
	metricsAddr string
	rec         *metrics.Recorder
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := &globalOptions{repoPath: ".", rec: metrics.New()}

	root := &cobra.Command{
		Use:           "ostrepo",
		Short:         "Content-addressed object store for immutable filesystem trees",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if opts.metricsAddr != "" {
				go serveMetrics(opts.metricsAddr, opts.rec)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.repoPath, "repo", opts.repoPath, "Path to the repository")
	root.PersistentFlags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	root.PersistentFlags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090) while the command runs")

	root.AddCommand(
		newInitCmd(opts),
		newConfigCmd(opts),
		newCommitCmd(opts),
		newCheckoutCmd(opts),
		newRefCmd(opts),
		newPackCmd(opts),
		newRemoteCmd(opts),
	)

	if err := root.Execute(); err != nil {
		reportError(err)
		return 1
	}
	return 0
}

func serveMetrics(addr string, rec *metrics.Recorder) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil { //nolint:gosec // CLI-local debug endpoint, not internet-facing
		fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
	}
}
