package main

import (
	"fmt"
	"os"

	"github.com/ostrepo/ostrepo/internal/cliutil"
	"github.com/ostrepo/ostrepo/internal/refs"
	"github.com/ostrepo/ostrepo/internal/repo"
	"github.com/ostrepo/ostrepo/internal/types"
)

// openRepo opens the repository at opts.repoPath for read-only use (no
// transaction started).
func openRepo(opts *globalOptions) (*repo.Repo, error) {
	r, err := repo.Open(opts.repoPath, repo.WithMetrics(opts.rec))
	if err != nil {
		return nil, fmt.Errorf("open repo %s: %w", opts.repoPath, err)
	}
	return r, nil
}

// openRepoForTransaction opens the repository and prepares a staging
// transaction, for commands that write objects.
func openRepoForTransaction(opts *globalOptions) (*repo.Repo, error) {
	r, err := openRepo(opts)
	if err != nil {
		return nil, err
	}
	if err := r.PrepareTransaction(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("prepare transaction: %w", err)
	}
	return r, nil
}

// resolveRev resolves rev as a ref name (with optional "^N" parent-walk
// suffix) or a literal checksum — refs.Resolve accepts both.
func resolveRev(r *repo.Repo, rev string) (types.Checksum, error) {
	return refs.Resolve(r.Root(), r, rev)
}

func reportError(err error) {
	cliutil.PrintError(os.Stderr, err)
}
