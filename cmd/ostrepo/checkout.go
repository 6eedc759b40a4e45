package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/checkout"
)

type checkoutOptions struct {
	asUser  bool
	union   bool
	workers int
}

func newCheckoutCmd(g *globalOptions) *cobra.Command {
	opts := &checkoutOptions{workers: runtime.NumCPU()}

	cmd := &cobra.Command{
		Use:   "checkout <rev> <dest>",
		Short: "Reconstruct a committed tree onto the filesystem",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCheckout(args[0], args[1], g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.asUser, "user", false, "Check out for an unprivileged user (skip ownership restoration)")
	cmd.Flags().BoolVar(&opts.union, "union", false, "Overwrite files already present at the destination")
	cmd.Flags().IntVar(&opts.workers, "workers", opts.workers, "Number of parallel checkout workers")

	return cmd
}

func runCheckout(rev, dest string, g *globalOptions, opts *checkoutOptions) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	commitCsum, err := resolveRev(r, rev)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", rev, err)
	}

	return checkout.Checkout(r, commitCsum, dest, checkout.Options{
		Workers:      opts.workers,
		ShowProgress: !g.noProgress,
		Overwrite:    opts.union,
		AsUser:       opts.asUser,
		Metrics:      g.rec,
	})
}
