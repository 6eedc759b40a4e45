package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/config"
	"github.com/ostrepo/ostrepo/internal/repo"
)

type initOptions struct {
	mode   string
	parent string
}

func newInitCmd(_ *globalOptions) *cobra.Command {
	opts := &initOptions{mode: string(config.ModeBare)}

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Create a new repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runInit(args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", opts.mode, "Storage mode: bare or archive")
	cmd.Flags().StringVar(&opts.parent, "parent", "", "Path to a parent repository")

	return cmd
}

func runInit(path string, opts *initOptions) error {
	mode := config.Mode(opts.mode)
	if mode != config.ModeBare && mode != config.ModeArchive {
		return fmt.Errorf("invalid --mode %q: must be %q or %q", opts.mode, config.ModeBare, config.ModeArchive)
	}

	r, err := repo.Init(path, mode, opts.parent)
	if err != nil {
		return fmt.Errorf("init %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	fmt.Printf("Initialized %s repository at %s\n", mode, path)
	return nil
}
