package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/refs"
)

func newRefCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ref",
		Short: "Inspect and modify the branch reference namespace",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List local branches",
			Args:  cobra.NoArgs,
			RunE: func(_ *cobra.Command, _ []string) error {
				return runRefList(g)
			},
		},
		&cobra.Command{
			Use:   "resolve <rev>",
			Short: "Resolve a rev to a commit checksum",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return runRefResolve(g, args[0])
			},
		},
		&cobra.Command{
			Use:   "write <name> <checksum>",
			Short: "Point a local branch at a commit checksum",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return runRefWrite(g, args[0], args[1])
			},
		},
	)

	return cmd
}

func runRefList(g *globalOptions) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	heads, err := refs.ListHeads(r.Root())
	if err != nil {
		return fmt.Errorf("list heads: %w", err)
	}
	for _, name := range heads {
		fmt.Println(name)
	}
	return nil
}

func runRefResolve(g *globalOptions, rev string) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	csum, err := resolveRev(r, rev)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", rev, err)
	}
	fmt.Println(csum)
	return nil
}

func runRefWrite(g *globalOptions, name, checksum string) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	csum, err := resolveRev(r, checksum)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", checksum, err)
	}
	if err := refs.SetHead(r.Root(), name, csum); err != nil {
		return fmt.Errorf("write ref %s: %w", name, err)
	}
	return refs.WriteSummary(r.Root())
}
