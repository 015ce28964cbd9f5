package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/kbtz/kbtz-workspace/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMain runs before all tests to set up the test environment.
func TestMain(m *testing.M) {
	_ = log.Initialize(os.TempDir(), false)
	code := m.Run()
	_ = log.Close()
	os.Exit(code)
}

func TestGetClaudeCommand(t *testing.T) {
	t.Run("finds claude in PATH", func(t *testing.T) {
		originalPath := os.Getenv("PATH")
		tempDir := t.TempDir()
		claudePath := filepath.Join(tempDir, "claude")

		err := os.WriteFile(claudePath, []byte("#!/bin/bash\necho 'mock claude'"), 0755)
		require.NoError(t, err)

		t.Setenv("PATH", tempDir+":"+originalPath)
		t.Setenv("SHELL", "/bin/bash")

		result, err := GetClaudeCommand()

		assert.NoError(t, err)
		assert.True(t, strings.Contains(result, "claude"))
	})

	t.Run("handles missing claude command", func(t *testing.T) {
		tempDir := t.TempDir()
		t.Setenv("PATH", tempDir)
		t.Setenv("SHELL", "/bin/bash")

		result, err := GetClaudeCommand()

		assert.Error(t, err)
		assert.Equal(t, "", result)
		assert.Contains(t, err.Error(), "claude command not found")
	})

	t.Run("handles alias parsing", func(t *testing.T) {
		aliasRegex := regexp.MustCompile(`(?:aliased to|->|=)\s*([^\s]+)`)

		output := "claude: aliased to /usr/local/bin/claude"
		matches := aliasRegex.FindStringSubmatch(output)
		assert.Len(t, matches, 2)
		assert.Equal(t, "/usr/local/bin/claude", matches[1])

		output = "/usr/local/bin/claude"
		matches = aliasRegex.FindStringSubmatch(output)
		assert.Len(t, matches, 0)
	})
}

func TestDefaultConfig(t *testing.T) {
	t.Run("creates config with default values", func(t *testing.T) {
		config := DefaultConfig()

		assert.NotNil(t, config)
		assert.NotEmpty(t, config.DefaultProgram)
		assert.Equal(t, 4, config.SlotCount)
		assert.True(t, config.AutoSpawnEnabled)
		assert.NotEmpty(t, config.BranchPrefix)
		assert.True(t, strings.HasSuffix(config.BranchPrefix, "/"))
		assert.Equal(t, "--append-system-prompt", config.AppendSystemPromptFlag)
	})
}

func TestGetConfigDir(t *testing.T) {
	t.Run("returns valid config directory", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		configDir, err := GetConfigDir()

		require.NoError(t, err)
		assert.NotEmpty(t, configDir)
		assert.True(t, strings.HasSuffix(configDir, filepath.Join(".config", "kbtz")))
		assert.True(t, filepath.IsAbs(configDir))
	})

	t.Run("migrates legacy .kasmos to .config/kbtz", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		oldDir := filepath.Join(tempHome, ".kasmos")
		require.NoError(t, os.MkdirAll(oldDir, 0755))
		require.NoError(t, os.WriteFile(
			filepath.Join(oldDir, "config.json"),
			[]byte(`{"slot_count":7}`), 0644))

		configDir, err := GetConfigDir()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(configDir, filepath.Join(".config", "kbtz")))

		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err))

		data, err := os.ReadFile(filepath.Join(configDir, "config.json"))
		require.NoError(t, err)
		assert.Equal(t, `{"slot_count":7}`, string(data))
	})

	t.Run("skips migration when .config/kbtz already exists", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		newDir := filepath.Join(tempHome, ".config", "kbtz")
		oldDir := filepath.Join(tempHome, ".kasmos")
		require.NoError(t, os.MkdirAll(newDir, 0755))
		require.NoError(t, os.MkdirAll(oldDir, 0755))
		require.NoError(t, os.WriteFile(filepath.Join(oldDir, "config.json"), []byte(`{"slot_count":1}`), 0644))

		configDir, err := GetConfigDir()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(configDir, filepath.Join(".config", "kbtz")))

		_, err = os.Stat(oldDir)
		assert.NoError(t, err)
		data, err := os.ReadFile(filepath.Join(oldDir, "config.json"))
		require.NoError(t, err)
		assert.Equal(t, `{"slot_count":1}`, string(data))
	})

	t.Run("no-ops when neither dir exists", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		configDir, err := GetConfigDir()
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(configDir, filepath.Join(".config", "kbtz")))
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("returns default config when file doesn't exist", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		config := LoadConfig()

		assert.NotNil(t, config)
		assert.NotEmpty(t, config.DefaultProgram)
		assert.Equal(t, 4, config.SlotCount)
		assert.NotEmpty(t, config.BranchPrefix)
	})

	t.Run("loads valid config file", func(t *testing.T) {
		tempHome := t.TempDir()
		configDir := filepath.Join(tempHome, ".config", "kbtz")
		err := os.MkdirAll(configDir, 0755)
		require.NoError(t, err)

		configPath := filepath.Join(configDir, ConfigFileName)
		configContent := `{
			"default_program": "test-claude",
			"slot_count": 2,
			"branch_prefix": "test/"
		}`
		err = os.WriteFile(configPath, []byte(configContent), 0644)
		require.NoError(t, err)

		t.Setenv("HOME", tempHome)

		config := LoadConfig()

		assert.NotNil(t, config)
		assert.Equal(t, "test-claude", config.DefaultProgram)
		assert.Equal(t, 2, config.SlotCount)
		assert.Equal(t, "test/", config.BranchPrefix)
	})

	t.Run("returns default config on invalid JSON", func(t *testing.T) {
		tempHome := t.TempDir()
		configDir := filepath.Join(tempHome, ".config", "kbtz")
		err := os.MkdirAll(configDir, 0755)
		require.NoError(t, err)

		configPath := filepath.Join(configDir, ConfigFileName)
		invalidContent := `{"invalid": json content}`
		err = os.WriteFile(configPath, []byte(invalidContent), 0644)
		require.NoError(t, err)

		t.Setenv("HOME", tempHome)

		config := LoadConfig()

		assert.NotNil(t, config)
		assert.NotEmpty(t, config.DefaultProgram)
		assert.Equal(t, 4, config.SlotCount)
	})

	t.Run("KBTZ_DB and KBTZ_WORKSPACE_DIR override the loaded config", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)
		t.Setenv("KBTZ_DB", "/tmp/override.db")
		t.Setenv("KBTZ_WORKSPACE_DIR", "/tmp/override-workspace")

		config := LoadConfig()

		assert.Equal(t, "/tmp/override.db", config.DBPath)
		assert.Equal(t, "/tmp/override-workspace", config.WorkspaceDir)
	})
}

func TestSaveConfig(t *testing.T) {
	t.Run("saves config to file", func(t *testing.T) {
		tempHome := t.TempDir()
		t.Setenv("HOME", tempHome)

		testConfig := &Config{
			DefaultProgram: "test-program",
			SlotCount:      3,
			BranchPrefix:   "test-branch/",
		}

		err := SaveConfig(testConfig)
		assert.NoError(t, err)

		configDir := filepath.Join(tempHome, ".config", "kbtz")
		configPath := filepath.Join(configDir, ConfigFileName)

		assert.FileExists(t, configPath)

		loadedConfig := LoadConfig()
		assert.Equal(t, testConfig.DefaultProgram, loadedConfig.DefaultProgram)
		assert.Equal(t, testConfig.SlotCount, loadedConfig.SlotCount)
		assert.Equal(t, testConfig.BranchPrefix, loadedConfig.BranchPrefix)
	})
}
