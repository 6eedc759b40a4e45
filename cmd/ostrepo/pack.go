package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/types"
)

type packAddOptions struct {
	meta bool
	data bool
}

func newPackCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Manage loose-object pack files",
	}

	addOpts := &packAddOptions{}
	addCmd := &cobra.Command{
		Use:   "add <index> <data>",
		Short: "Install a pack index/data pair and regenerate the super-index",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runPackAdd(g, args[0], args[1], addOpts)
		},
	}
	addCmd.Flags().BoolVar(&addOpts.meta, "meta", false, "Install as a metadata pack")
	addCmd.Flags().BoolVar(&addOpts.data, "data", false, "Install as a data pack")

	cmd.AddCommand(addCmd, &cobra.Command{
		Use:   "regenerate-index",
		Short: "Rebuild the super-index from every pack under objects/pack",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runPackRegenerateIndex(g)
		},
	})

	return cmd
}

func runPackAdd(g *globalOptions, indexPath, dataPath string, opts *packAddOptions) error {
	if opts.meta == opts.data {
		return fmt.Errorf("exactly one of --meta or --data is required")
	}

	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	data, err := os.ReadFile(dataPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", dataPath, err)
	}
	packCsum := types.FromBytes(data)

	if err := r.Packs().AddPackFile(indexPath, dataPath, packCsum, opts.meta); err != nil {
		return fmt.Errorf("install pack %s: %w", packCsum, err)
	}
	if err := r.Packs().RegenerateSuperIndex(); err != nil {
		return fmt.Errorf("regenerate super-index: %w", err)
	}

	fmt.Println(packCsum)
	return nil
}

func runPackRegenerateIndex(g *globalOptions) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	return r.Packs().RegenerateSuperIndex()
}
