// Package config parses and writes a repository's ini-like config file.
// Grounded on rclone-rclone's vendored go-ini/ini usage for its own
// repo-local configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/ostrepo/ostrepo/internal/types"
)

// Mode is the repository's immutable storage mode.
type Mode string

const (
	ModeBare    Mode = "bare"
	ModeArchive Mode = "archive"
)

// Remote describes one `remote "<name>"` section.
type Remote struct {
	Name     string
	URL      string
	Branches []string
}

// Config is the parsed contents of a repository's config file.
type Config struct {
	RepoVersion string
	Mode        Mode
	ParentPath  string // empty if no parent
	Remotes     map[string]Remote

	raw *ini.File // the file as parsed; Write does not use it, so unknown sections/keys are not written back
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true}, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s: %w", path, &types.NotFoundError{What: "config", Name: path})
		}
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return fromIni(f)
}

// Parse parses config file contents already read into memory.
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return fromIni(f)
}

func fromIni(f *ini.File) (*Config, error) {
	core := f.Section("core")

	version := core.Key("repo_version").String()
	if version == "" {
		return nil, &types.InvalidConfigError{Detail: "core.repo_version missing"}
	}
	if version != "1" {
		return nil, &types.InvalidConfigError{Detail: fmt.Sprintf("unsupported core.repo_version %q", version)}
	}

	mode, err := resolveMode(core)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RepoVersion: version,
		Mode:        mode,
		ParentPath:  core.Key("parent").String(),
		Remotes:     map[string]Remote{},
		raw:         f,
	}

	for _, section := range f.Sections() {
		name := section.Name()
		if !strings.HasPrefix(name, "remote ") {
			continue
		}
		remoteName := unquoteSectionName(strings.TrimPrefix(name, "remote "))
		r := Remote{
			Name: remoteName,
			URL:  section.Key("url").String(),
		}
		if branches := section.Key("branches").String(); branches != "" {
			r.Branches = section.Key("branches").Strings(",")
		}
		cfg.Remotes[remoteName] = r
	}

	return cfg, nil
}

// resolveMode normalizes the legacy archive=true/false alias: either
// `mode=bare|archive`, or the legacy `archive=true/false` boolean.
func resolveMode(core *ini.Section) (Mode, error) {
	if core.HasKey("mode") {
		m := Mode(core.Key("mode").String())
		if m != ModeBare && m != ModeArchive {
			return "", &types.InvalidConfigError{Detail: fmt.Sprintf("unknown core.mode %q", m)}
		}
		return m, nil
	}
	if core.HasKey("archive") {
		b, err := strconv.ParseBool(core.Key("archive").String())
		if err != nil {
			return "", &types.InvalidConfigError{Detail: fmt.Sprintf("invalid core.archive value: %v", err)}
		}
		if b {
			return ModeArchive, nil
		}
		return ModeBare, nil
	}
	return "", &types.InvalidConfigError{Detail: "core.mode (or legacy core.archive) missing"}
}

func unquoteSectionName(s string) string {
	s = strings.TrimSpace(s)
	return strings.Trim(s, `"`)
}

// Write serializes cfg to path atomically (write-temp-then-rename), matching
// every other atomic-replace operation in this repository, including the
// pack super-index.
func Write(path string, cfg *Config) error {
	f := ini.Empty()
	core := f.Section("core")
	_, _ = core.NewKey("repo_version", cfg.RepoVersion)
	_, _ = core.NewKey("mode", string(cfg.Mode))
	if cfg.ParentPath != "" {
		_, _ = core.NewKey("parent", cfg.ParentPath)
	}

	for _, r := range cfg.Remotes {
		sec, err := f.NewSection(fmt.Sprintf(`remote "%s"`, r.Name))
		if err != nil {
			return fmt.Errorf("write remote section %s: %w", r.Name, err)
		}
		_, _ = sec.NewKey("url", r.URL)
		if len(r.Branches) > 0 {
			_, _ = sec.NewKey("branches", strings.Join(r.Branches, ","))
		}
	}

	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := f.SaveTo(tmp); err != nil {
		return fmt.Errorf("write config tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}
