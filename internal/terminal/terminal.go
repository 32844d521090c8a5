// Package terminal loads the identity of this terminal from a local file and
// captures it interactively on first run.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

const FileName = "terminal-config.yaml"

// Older deployments wrote JSON, which the YAML decoder reads as-is.
var legacyFileNames = []string{"TERMINAL_CONFIGE.json", "terminal-config.json"}

var ErrNotFound = errors.New("terminal config not found")

type Config struct {
	ID   int64  `yaml:"terminalId"`
	Name string `yaml:"terminalName"`
}

func Default() Config {
	return Config{ID: 1, Name: "New Scanner"}
}

func (c Config) normalized() Config {
	d := Default()
	if c.ID <= 0 {
		c.ID = d.ID
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = d.Name
	}
	return c
}

// Load reads the first config file found in dir and returns it with the
// path it came from.
func Load(dir string) (Config, string, error) {
	for _, name := range append([]string{FileName}, legacyFileNames...) {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, path, fmt.Errorf("read %s: %w", path, err)
		}

		var cfg Config
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, path, fmt.Errorf("parse %s: %w", path, err)
		}
		return cfg.normalized(), path, nil
	}
	return Config{}, "", ErrNotFound
}

func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Prompt asks for the terminal id and name. Empty answers take the defaults.
func Prompt(in io.Reader, out io.Writer) (Config, error) {
	d := Default()
	sc := bufio.NewScanner(in)

	fmt.Fprintf(out, "Terminal ID [%d]: ", d.ID)
	cfg := Config{}
	if sc.Scan() {
		if v := strings.TrimSpace(sc.Text()); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				fmt.Fprintf(out, "Invalid terminal id %q, using %d\n", v, d.ID)
			} else {
				cfg.ID = id
			}
		}
	}

	fmt.Fprintf(out, "Terminal name [%s]: ", d.Name)
	if sc.Scan() {
		cfg.Name = sc.Text()
	}
	if err := sc.Err(); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

// Resolve loads the config from dir. When none exists it prompts on an
// interactive stdin and saves the answer, otherwise it falls back to the
// defaults.
func Resolve(dir string, in *os.File, out io.Writer) (Config, error) {
	cfg, path, err := Load(dir)
	if err == nil {
		slog.Info("Loaded terminal config", "path", path, "terminal_id", cfg.ID, "terminal_name", cfg.Name)
		return cfg, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Config{}, err
	}

	if in == nil || !term.IsTerminal(int(in.Fd())) {
		cfg = Default()
		slog.Warn("No terminal config found, using defaults", "terminal_id", cfg.ID, "terminal_name", cfg.Name)
		return cfg, nil
	}

	fmt.Fprintln(out, "First run: configure this terminal.")
	cfg, err = Prompt(in, out)
	if err != nil {
		return Config{}, fmt.Errorf("read terminal config: %w", err)
	}
	path = filepath.Join(dir, FileName)
	if err := Save(path, cfg); err != nil {
		return Config{}, fmt.Errorf("save %s: %w", path, err)
	}
	slog.Info("Saved terminal config", "path", path)
	return cfg, nil
}
