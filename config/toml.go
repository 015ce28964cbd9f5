package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// TOMLAgent is the on-disk TOML representation of an AgentProfile.
type TOMLAgent struct {
	Enabled     bool     `toml:"enabled"`
	Program     string   `toml:"program"`
	Model       string   `toml:"model,omitempty"`
	Temperature *float64 `toml:"temperature,omitempty"`
	Effort      string   `toml:"effort,omitempty"`
	Flags       []string `toml:"flags,omitempty"`
}

// TOMLConfig is the on-disk TOML overlay. TOML is authoritative for the
// fields it carries; the JSON config.json supplies everything else.
type TOMLConfig struct {
	Phases    map[string]string    `toml:"phases"`
	Agents    map[string]TOMLAgent `toml:"agents"`
	Telemetry *bool                `toml:"telemetry_enabled"`
}

// tomlResult is what LoadTOMLConfigFrom returns after translating the
// on-disk shape into the Config fields that overlay it.
type tomlResult struct {
	PhaseRoles       map[string]string
	Profiles         map[string]AgentProfile
	TelemetryEnabled *bool
}

// LoadTOMLConfigFrom parses a TOML config file at the given path.
func LoadTOMLConfigFrom(path string) (*tomlResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read toml config %s: %w", path, err)
	}

	var tc TOMLConfig
	if _, err := toml.Decode(string(data), &tc); err != nil {
		return nil, fmt.Errorf("parse toml config %s: %w", path, err)
	}

	profiles := make(map[string]AgentProfile, len(tc.Agents))
	for name, a := range tc.Agents {
		profiles[name] = AgentProfile{
			Program:     a.Program,
			Flags:       a.Flags,
			Model:       a.Model,
			Temperature: a.Temperature,
			Effort:      a.Effort,
			Enabled:     a.Enabled,
		}
	}

	return &tomlResult{
		PhaseRoles:       tc.Phases,
		Profiles:         profiles,
		TelemetryEnabled: tc.Telemetry,
	}, nil
}

// SaveTOMLConfigTo writes a TOMLConfig to the given path, creating parent
// directories as needed.
func SaveTOMLConfigTo(tc *TOMLConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create toml config dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create toml config %s: %w", path, err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(tc); err != nil {
		return fmt.Errorf("encode toml config %s: %w", path, err)
	}
	return nil
}

// tomlConfigPath returns the default location of the TOML overlay file.
func tomlConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return dir + string(os.PathSeparator) + "config.toml", nil
}

// LoadTOMLConfig loads the TOML overlay from its default location. Returns
// (nil, nil) when the file does not exist — the overlay is optional.
func LoadTOMLConfig() (*tomlResult, error) {
	path, err := tomlConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return LoadTOMLConfigFrom(path)
}
