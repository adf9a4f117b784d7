// internal/config/config.go
//
// This package handles configuration and the qcview home directory.
// Every reviewer gets a home (default ~/.qcview, override with QCVIEW_HOME)
// holding config.yaml, logs and the per-dataset verdict files.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/qcview/internal/step"
	"github.com/kingrea/qcview/internal/verdict"
)

const (
	// HomeEnv overrides the home directory location.
	HomeEnv = "QCVIEW_HOME"
	// HomeDirName is the directory created under the user's home.
	HomeDirName = ".qcview"

	defaultHost          = "127.0.0.1"
	defaultPort          = 8050
	defaultViewerCommand = "xdg-open"
	anonymousReviewer    = "anonymous"
)

const defaultConfigYAML = `# qcview configuration
version: 1

# Reviewer name used to key verdict files. Defaults to the login user.
# reviewer: alice

# Step whose figures enumerate a subject's runs. Every fMRIPrep run has a
# carpet plot, so leave this alone unless your outputs differ.
canonical_step: carpetplot

# Local HTTP server that serves figures to the viewer command.
server:
  enabled: true
  host: 127.0.0.1
  port: 8050

# Command used by the "o" key to open the current figure.
viewer:
  command: xdg-open
`

// ServerConfig configures the image server.
type ServerConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Host    string `yaml:"host,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// ViewerConfig names the external program that opens figures.
type ViewerConfig struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args,omitempty"`
}

// ProjectConfig models config.yaml.
type ProjectConfig struct {
	Version       int          `yaml:"version"`
	Reviewer      string       `yaml:"reviewer,omitempty"`
	Dataset       string       `yaml:"dataset,omitempty"`
	CanonicalStep string       `yaml:"canonical_step,omitempty"`
	Server        ServerConfig `yaml:"server"`
	Viewer        ViewerConfig `yaml:"viewer"`
}

// Config holds the runtime configuration for one review session.
type Config struct {
	// Home is the qcview home directory.
	Home string

	// DerivativesRoot is the fMRIPrep output folder being reviewed.
	DerivativesRoot string

	// Reviewer and Dataset key the verdict file.
	Reviewer string
	Dataset  string

	Project ProjectConfig
}

// Home returns the home directory, respecting QCVIEW_HOME.
func Home() string {
	if h := strings.TrimSpace(os.Getenv(HomeEnv)); h != "" {
		return h
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", HomeDirName)
	}
	return filepath.Join(home, HomeDirName)
}

// InitHomeDir creates the home directory structure:
//
//	<home>/
//	├── config.yaml
//	├── logs/
//	└── verdicts/   <- <reviewer>/<dataset>.json
func InitHomeDir(home string) error {
	dirs := []string{
		home,
		filepath.Join(home, "logs"),
		filepath.Join(home, "verdicts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return ensureProjectConfig(filepath.Join(home, "config.yaml"))
}

// NewConfig loads config.yaml from home and derives reviewer and dataset for
// the given derivatives root.
func NewConfig(home, derivativesRoot string) (*Config, error) {
	root := strings.TrimSpace(derivativesRoot)
	if root == "" {
		return nil, fmt.Errorf("config: derivatives path is required")
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	cfg := &Config{
		Home:            home,
		DerivativesRoot: root,
		Project:         defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	cfg.Reviewer = cfg.Project.Reviewer
	if cfg.Reviewer == "" {
		cfg.Reviewer = loginName()
	}
	cfg.Dataset = cfg.Project.Dataset
	if cfg.Dataset == "" {
		cfg.Dataset = DatasetName(root)
	}
	return cfg, nil
}

// ConfigPath returns the on-disk location for config.yaml.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.Home, "config.yaml")
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Home, "logs")
}

// JournalPath is the logbook shown in the viewer's log panel.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// VerdictPath returns the verdict file for the current reviewer and dataset.
func (c *Config) VerdictPath() string {
	return verdict.Path(c.Home, c.Reviewer, c.Dataset)
}

// CanonicalStep returns the step used to enumerate runs.
func (c *Config) CanonicalStep() step.Token {
	return step.Token(c.Project.CanonicalStep)
}

// ServerEnabled reports whether the image server should start.
func (c *Config) ServerEnabled() bool {
	if c.Project.Server.Enabled == nil {
		return true
	}
	return *c.Project.Server.Enabled
}

// ViewerCommand returns the opener program and its leading arguments.
func (c *Config) ViewerCommand() (string, []string) {
	return c.Project.Viewer.Command, append([]string{}, c.Project.Viewer.Args...)
}

// SetReviewer overrides the reviewer (command-line flag).
func (c *Config) SetReviewer(name string) {
	if name = strings.TrimSpace(name); name != "" {
		c.Reviewer = name
	}
}

// SetDataset overrides the dataset id (command-line flag).
func (c *Config) SetDataset(name string) {
	if name = strings.TrimSpace(name); name != "" {
		c.Dataset = name
	}
}

// SetCanonicalStep overrides the canonical step after validating it.
func (c *Config) SetCanonicalStep(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	if !step.IsFunctional(step.Token(token)) {
		return fmt.Errorf("config: canonical step %q is not a functional step", token)
	}
	c.Project.CanonicalStep = token
	return nil
}

// DatasetName derives a dataset id from a derivatives path. For the usual
// <dataset>/derivatives/fmriprep layout the dataset folder name is used.
func DatasetName(root string) string {
	clean := filepath.Clean(root)
	name := filepath.Base(clean)
	for _, generic := range []string{"fmriprep", "derivatives"} {
		if strings.EqualFold(name, generic) {
			clean = filepath.Dir(clean)
			name = filepath.Base(clean)
		}
	}
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "dataset"
	}
	return name
}

func (c *Config) loadProjectConfig() error {
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	parsed := defaultProjectConfig()
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Version:       1,
		CanonicalStep: string(step.Canonical),
		Server: ServerConfig{
			Host: defaultHost,
			Port: defaultPort,
		},
		Viewer: ViewerConfig{Command: defaultViewerCommand},
	}
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.CanonicalStep) == "" {
		pc.CanonicalStep = string(step.Canonical)
	}
	if pc.Server.Port == 0 {
		pc.Server.Port = defaultPort
	}
	if strings.TrimSpace(pc.Viewer.Command) == "" {
		pc.Viewer.Command = defaultViewerCommand
	}
}

func (pc *ProjectConfig) normalize() {
	pc.Reviewer = strings.TrimSpace(pc.Reviewer)
	pc.Dataset = strings.TrimSpace(pc.Dataset)
	pc.CanonicalStep = strings.TrimSpace(pc.CanonicalStep)
	pc.Server.Host = strings.TrimSpace(pc.Server.Host)
	if pc.Server.Host == "" {
		pc.Server.Host = defaultHost
	}
	pc.Viewer.Command = strings.TrimSpace(pc.Viewer.Command)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if !step.IsFunctional(step.Token(pc.CanonicalStep)) {
		return fmt.Errorf("canonical_step %q is not a functional step", pc.CanonicalStep)
	}
	if pc.Server.Port < 0 || pc.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

func loginName() string {
	if u, err := user.Current(); err == nil && strings.TrimSpace(u.Username) != "" {
		return filepath.Base(u.Username)
	}
	if name := strings.TrimSpace(os.Getenv("USER")); name != "" {
		return name
	}
	return anonymousReviewer
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}

// SaveProjectConfig writes the current project settings back to config.yaml.
func (c *Config) SaveProjectConfig() error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	c.Project.applyDefaults()
	c.Project.normalize()
	if err := c.Project.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.MkdirAll(c.Home, 0o755); err != nil {
		return fmt.Errorf("config: ensure home dir: %w", err)
	}
	data, err := yaml.Marshal(c.Project)
	if err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.WriteFile(c.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("config: write config: %w", err)
	}
	return nil
}
