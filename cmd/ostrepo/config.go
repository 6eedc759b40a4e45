package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ostrepo/ostrepo/internal/config"
)

func newConfigCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or modify a repository's configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <key>",
			Short: "Print a configuration value",
			Args:  cobra.ExactArgs(1),
			RunE: func(_ *cobra.Command, args []string) error {
				return runConfigGet(g, args[0])
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Args:  cobra.ExactArgs(2),
			RunE: func(_ *cobra.Command, args []string) error {
				return runConfigSet(g, args[0], args[1])
			},
		},
	)

	return cmd
}

// configValue reads key ("core.mode", "core.parent", "remote.<name>.url",
// "remote.<name>.branches") out of cfg.
func configValue(cfg *config.Config, key string) (string, error) {
	parts := strings.Split(key, ".")
	switch {
	case len(parts) == 2 && parts[0] == "core":
		switch parts[1] {
		case "mode":
			return string(cfg.Mode), nil
		case "parent":
			return cfg.ParentPath, nil
		case "repo_version":
			return cfg.RepoVersion, nil
		}
	case len(parts) == 3 && parts[0] == "remote":
		remote, ok := cfg.Remotes[parts[1]]
		if !ok {
			return "", fmt.Errorf("no such remote %q", parts[1])
		}
		switch parts[2] {
		case "url":
			return remote.URL, nil
		case "branches":
			return strings.Join(remote.Branches, ","), nil
		}
	}
	return "", fmt.Errorf("unknown config key %q", key)
}

// setConfigValue mutates cfg in place for key, the write-side counterpart
// of configValue.
func setConfigValue(cfg *config.Config, key, value string) error {
	parts := strings.Split(key, ".")
	switch {
	case len(parts) == 2 && parts[0] == "core" && parts[1] == "parent":
		cfg.ParentPath = value
		return nil
	case len(parts) == 3 && parts[0] == "remote":
		remote := cfg.Remotes[parts[1]]
		remote.Name = parts[1]
		switch parts[2] {
		case "url":
			remote.URL = value
		case "branches":
			remote.Branches = strings.Split(value, ",")
		default:
			return fmt.Errorf("unknown config key %q", key)
		}
		cfg.Remotes[parts[1]] = remote
		return nil
	}
	return fmt.Errorf("config key %q is not settable (core.mode and core.repo_version are immutable)", key)
}

func runConfigGet(g *globalOptions, key string) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	value, err := configValue(r.Config(), key)
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigSet(g *globalOptions, key, value string) error {
	r, err := openRepo(g)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	cfg := r.CopyConfig()
	if err := setConfigValue(cfg, key, value); err != nil {
		return err
	}
	return r.WriteConfig(cfg)
}
