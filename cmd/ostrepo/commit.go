package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/cliutil"
	"github.com/ostrepo/ostrepo/internal/commitengine"
	"github.com/ostrepo/ostrepo/internal/refs"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
)

type commitOptions struct {
	branch  string
	subject string
	body    string
	parent  string
	workers int
}

func newCommitCmd(g *globalOptions) *cobra.Command {
	opts := &commitOptions{
		parent:  "auto",
		workers: runtime.NumCPU(),
	}

	cmd := &cobra.Command{
		Use:   "commit <path>",
		Short: "Stage a directory and commit it to a branch",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runCommit(args[0], g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.branch, "branch", "", "Branch to update (required)")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "Commit subject")
	cmd.Flags().StringVar(&opts.body, "body", "", "Commit body")
	cmd.Flags().StringVar(&opts.parent, "parent", opts.parent, `Parent commit: "auto" (current branch tip), "none", or a rev`)
	cmd.Flags().IntVar(&opts.workers, "workers", opts.workers, "Number of parallel staging workers")
	_ = cmd.MarkFlagRequired("branch")

	return cmd
}

func runCommit(path string, g *globalOptions, opts *commitOptions) error {
	r, err := openRepoForTransaction(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	parent, err := resolveCommitParent(r, opts)
	if err != nil {
		return fmt.Errorf("resolve --parent: %w", err)
	}

	tree, err := commitengine.StageDirectoryToMtree(r, path, commitengine.Options{
		Workers:      opts.workers,
		ShowProgress: !g.noProgress,
	})
	if err != nil {
		return fmt.Errorf("stage %s: %w", path, err)
	}

	commitCsum, err := commitengine.StageCommit(r, tree, commitengine.StageCommitOptions{
		Parent:  parent,
		Subject: opts.subject,
		Body:    opts.body,
	})
	if err != nil {
		return fmt.Errorf("stage commit: %w", err)
	}

	if err := r.CommitTransaction(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if err := refs.SetHead(r.Root(), opts.branch, commitCsum); err != nil {
		return fmt.Errorf("update branch %s: %w", opts.branch, err)
	}
	if err := refs.WriteSummary(r.Root()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	cliutil.PrintSummary(os.Stdout, opts.branch, commitCsum.String())
	return nil
}

func resolveCommitParent(r *repo.Repo, opts *commitOptions) (types.Checksum, error) {
	switch opts.parent {
	case "none":
		return types.Checksum{}, nil
	case "auto":
		csum, err := refs.Resolve(r.Root(), r, opts.branch)
		if err != nil {
			return types.Checksum{}, nil // no such branch yet: root commit
		}
		return csum, nil
	default:
		return resolveRev(r, opts.parent)
	}
}
