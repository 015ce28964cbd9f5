package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kbtz/kbtz-workspace/log"
)

const (
	ConfigFileName = "config.json"
	defaultProgram = "claude"
)

// GetConfigDir returns the path to the application's configuration directory.
// Uses XDG-compliant ~/.config/kbtz/. On first run, migrates a legacy
// ~/.kasmos directory to ~/.config/kbtz/.
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	newDir := filepath.Join(homeDir, ".config", "kbtz")

	// Already exists — fast path
	if _, err := os.Stat(newDir); err == nil {
		return newDir, nil
	}

	legacyDir := filepath.Join(homeDir, ".kasmos")
	if _, err := os.Stat(legacyDir); err == nil {
		if mkErr := os.MkdirAll(filepath.Dir(newDir), 0755); mkErr != nil {
			log.ErrorLog.Printf("failed to create %s: %v", filepath.Dir(newDir), mkErr)
			return legacyDir, nil
		}
		if renameErr := os.Rename(legacyDir, newDir); renameErr != nil {
			log.ErrorLog.Printf("failed to migrate %s to %s: %v", legacyDir, newDir, renameErr)
			return legacyDir, nil
		}
		return newDir, nil
	}

	return newDir, nil
}

// DefaultDBPath returns "$HOME/.kbtz/kbtz.db", overridable via KBTZ_DB.
func DefaultDBPath() string {
	if v := os.Getenv("KBTZ_DB"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kbtz/kbtz.db"
	}
	return filepath.Join(home, ".kbtz", "kbtz.db")
}

// DefaultWorkspaceDir returns "$HOME/.kbtz/workspace", overridable via
// KBTZ_WORKSPACE_DIR.
func DefaultWorkspaceDir() string {
	if v := os.Getenv("KBTZ_WORKSPACE_DIR"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kbtz/workspace"
	}
	return filepath.Join(home, ".kbtz", "workspace")
}

// Config represents the application configuration.
type Config struct {
	// DBPath is the task database file. Defaults to DefaultDBPath().
	DBPath string `json:"db_path"`
	// WorkspaceDir holds the lock file and per-session status files.
	// Defaults to DefaultWorkspaceDir().
	WorkspaceDir string `json:"workspace_dir"`
	// DefaultProgram is the agent program started for a spawned session
	// when no profile overrides it.
	DefaultProgram string `json:"default_program"`
	// DefaultArgs are flags appended to DefaultProgram.
	DefaultArgs []string `json:"default_args,omitempty"`
	// AppendSystemPromptFlag is the flag used to inject the per-task system
	// prompt via the child's native append-system-prompt mechanism
	// (e.g. "--append-system-prompt").
	AppendSystemPromptFlag string `json:"append_system_prompt_flag"`
	// SlotCount bounds how many sessions the Orchestrator runs concurrently.
	SlotCount int `json:"slot_count"`
	// AutoSpawnEnabled gates the LifecycleEngine's Spawn(:pick_next) rule.
	AutoSpawnEnabled bool `json:"auto_spawn_enabled"`
	// BranchPrefix is the prefix used for git branches created by
	// sessionenv's per-session worktree isolation.
	BranchPrefix string `json:"branch_prefix"`
	// NotificationsEnabled controls desktop notifications when a displayed
	// session transitions to needs_input.
	NotificationsEnabled *bool `json:"notifications_enabled,omitempty"`
	// Profiles maps agent role names to their program and flags configuration.
	Profiles map[string]AgentProfile `json:"profiles,omitempty"`
	// PhaseRoles maps a lookup key (conventionally "default") to an agent
	// role name in Profiles.
	PhaseRoles map[string]string `json:"phase_roles,omitempty"`
	// TelemetryEnabled controls whether crash reporting via Sentry is active.
	// Defaults to true when not set.
	TelemetryEnabled *bool `json:"telemetry_enabled,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	program, err := GetClaudeCommand()
	if err != nil {
		log.ErrorLog.Printf("failed to get claude command: %v", err)
		program = defaultProgram
	}

	trueVal := true
	return &Config{
		DBPath:                 DefaultDBPath(),
		WorkspaceDir:           DefaultWorkspaceDir(),
		DefaultProgram:         program,
		AppendSystemPromptFlag: "--append-system-prompt",
		SlotCount:              4,
		AutoSpawnEnabled:       true,
		BranchPrefix: func() string {
			u, err := user.Current()
			if err != nil || u == nil || u.Username == "" {
				log.ErrorLog.Printf("failed to get current user: %v", err)
				return "kbtz/"
			}
			return fmt.Sprintf("%s/", strings.ToLower(u.Username))
		}(),
		NotificationsEnabled: &trueVal,
	}
}

// AreNotificationsEnabled returns whether desktop notifications are enabled.
// Defaults to true when the field is not set.
func (c *Config) AreNotificationsEnabled() bool {
	if c.NotificationsEnabled == nil {
		return true
	}
	return *c.NotificationsEnabled
}

// IsTelemetryEnabled returns whether Sentry telemetry is enabled.
// Defaults to true when the field is not set.
func (c *Config) IsTelemetryEnabled() bool {
	if c.TelemetryEnabled == nil {
		return true
	}
	return *c.TelemetryEnabled
}

// GetClaudeCommand attempts to find the "claude" command in the user's shell.
// It checks in the following order:
//  1. Shell alias resolution: using "which" command
//  2. PATH lookup
//
// If both fail, it returns an error.
func GetClaudeCommand() (string, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	var shellCmd string
	if strings.Contains(shell, "zsh") {
		shellCmd = "source ~/.zshrc &>/dev/null || true; which claude"
	} else if strings.Contains(shell, "bash") {
		shellCmd = "source ~/.bashrc &>/dev/null || true; which claude"
	} else {
		shellCmd = "which claude"
	}

	cmd := exec.Command(shell, "-c", shellCmd)
	output, err := cmd.Output()
	if err == nil && len(output) > 0 {
		path := strings.TrimSpace(string(output))
		if path != "" {
			aliasRegex := regexp.MustCompile(`(?:aliased to|->|=)\s*([^\s]+)`)
			matches := aliasRegex.FindStringSubmatch(path)
			if len(matches) > 1 {
				path = matches[1]
			}
			return path, nil
		}
	}

	claudePath, err := exec.LookPath("claude")
	if err == nil {
		return claudePath, nil
	}

	return "", fmt.Errorf("claude command not found in aliases or PATH")
}

// ResolveDefaultProfile returns the "default" agent profile, if configured
// and enabled, falling back to DefaultProgram/DefaultArgs otherwise.
func (c *Config) ResolveDefaultProfile() AgentProfile {
	fallback := AgentProfile{Program: c.DefaultProgram, Flags: c.DefaultArgs}
	p := c.ResolveProfile("default", c.DefaultProgram)
	if p.Program == c.DefaultProgram && len(p.Flags) == 0 {
		return fallback
	}
	return p
}

func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}
		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	config := *DefaultConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	tomlResult, tomlErr := LoadTOMLConfig()
	if tomlErr != nil {
		log.WarningLog.Printf("failed to load TOML config: %v", tomlErr)
	} else if tomlResult != nil {
		if len(tomlResult.Profiles) > 0 {
			config.Profiles = tomlResult.Profiles
		}
		if len(tomlResult.PhaseRoles) > 0 {
			config.PhaseRoles = tomlResult.PhaseRoles
		}
		if tomlResult.TelemetryEnabled != nil {
			config.TelemetryEnabled = tomlResult.TelemetryEnabled
		}
	}

	if v := os.Getenv("KBTZ_DB"); v != "" {
		config.DBPath = v
	}
	if v := os.Getenv("KBTZ_WORKSPACE_DIR"); v != "" {
		config.WorkspaceDir = v
	}

	return &config
}

// saveConfig saves the configuration to disk.
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages.
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
