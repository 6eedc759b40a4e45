package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/remotecache"
)

func newRemoteCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage remote lookaside pack caches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "resync <name> <super-index-path>",
		Short: "Reconcile a remote's pack cache against a freshly fetched super-index",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRemoteResync(g, args[0], args[1])
		},
	})

	return cmd
}

func runRemoteResync(g *globalOptions, remote, superIndexPath string) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	superIndexData, err := os.ReadFile(superIndexPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", superIndexPath, err)
	}

	result, err := remotecache.Resync(r.Root(), remote, superIndexData)
	if err != nil {
		return fmt.Errorf("resync remote %s: %w", remote, err)
	}
	g.rec.PackResync(remote)

	fmt.Printf("cached: %d meta, %d data\n", len(result.CachedMeta), len(result.CachedData))
	fmt.Printf("uncached: %d meta, %d data\n", len(result.UncachedMeta), len(result.UncachedData))
	for _, csum := range result.UncachedMeta {
		fmt.Printf("need meta pack %s\n", csum)
	}
	for _, csum := range result.UncachedData {
		fmt.Printf("need data pack %s\n", csum)
	}
	return nil
}
