package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads the environment with Load and overlays the YAML document at
// path. Keys absent from the document keep their environment value.
func LoadFile(path string) (*Config, error) {
	cfg := Load()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}
	if err := overlay(cfg, data); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

// LoadProfile is LoadFile for profile_<name>.yaml in dir, e.g. a per
// environment overlay such as profile_staging.yaml.
func LoadProfile(dir, name string) (*Config, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	return LoadFile(filepath.Join(dir, fmt.Sprintf("profile_%s.yaml", name)))
}

func overlay(cfg *Config, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
