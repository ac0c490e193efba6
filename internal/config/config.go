// Package config loads the daemon configuration.
//
// A configuration file is YAML. The raw document is checked against the
// embedded CUE schema first, so typos and out-of-range values are reported
// with a path, then decoded strictly into Config. Omitted keys keep their
// defaults.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the full daemon configuration.
type Config struct {
	Database     string       `yaml:"database"`
	Log          Log          `yaml:"log"`
	Backend      Backend      `yaml:"backend"`
	Entitlements Entitlements `yaml:"entitlements"`
	Drain        Drain        `yaml:"drain"`
	Recovery     Recovery     `yaml:"recovery"`
	Identity     Poll         `yaml:"identity"`
	Queue        Poll         `yaml:"queue"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backend is the sync backend. An empty URL runs without sync transport.
type Backend struct {
	URL               string        `yaml:"url"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// Entitlements is the entitlement backend. An empty URL treats every
// authenticated user as not entitled.
type Entitlements struct {
	URL             string        `yaml:"url"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type Drain struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	Timeout       time.Duration `yaml:"timeout"`
	WatchdogGrace time.Duration `yaml:"watchdog_grace"`
}

type Recovery struct {
	ErrorRetention time.Duration `yaml:"error_retention"`
}

type Poll struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Database: "breadly.db",
		Log:      Log{Level: "info", Format: "text"},
		Backend:  Backend{ReconnectInterval: 10 * time.Second},
		Entitlements: Entitlements{
			RefreshInterval: 5 * time.Minute,
		},
		Drain: Drain{
			PollInterval:  time.Second,
			Timeout:       30 * time.Second,
			WatchdogGrace: 5 * time.Second,
		},
		Recovery: Recovery{ErrorRetention: time.Hour},
		Identity: Poll{PollInterval: 2 * time.Second},
		Queue:    Poll{PollInterval: 2 * time.Second},
	}
}

// ValidationError reports a document that does not satisfy the schema.
type ValidationError struct {
	Details string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Details
}

// Load reads the file at path. A missing path returns Default.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse validates and decodes a YAML document over the defaults.
func Parse(data []byte) (Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return Config{}, err
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func validate(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	v := def.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Details: cueerrors.Details(err, nil)}
	}
	return nil
}
