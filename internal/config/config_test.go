package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "AI_PROVIDER", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model",
		"GEMINI_API_KEY", "AI_TOOLS", "TRANSPORT_MAX_ATTEMPTS", "TRANSPORT_BASE_DELAY",
		"STORAGE_BACKEND", "CHAT_CONFIG_FILE", "SESSION_COMPLETION_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, ProviderEcho, cfg.AI.Provider)
	require.Equal(t, 5, cfg.Transport.MaxAttempts)
	require.Equal(t, time.Second, cfg.Transport.BaseDelay)
	require.Equal(t, 30*time.Second, cfg.Transport.MaxDelay)
	require.Equal(t, int64(10<<20), cfg.Session.MaxAttachmentBytes)
	require.Equal(t, StorageMemory, cfg.Storage.Backend)
	require.Equal(t, "gpt-4", cfg.Session.Defaults.SelectedModel)
}

func TestLoadInfersProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("ARK_API_KEY", "key")
	t.Setenv("Model", "ep-1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ProviderArk, cfg.AI.Provider)

	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "g")
	cfg, err = Load()
	require.NoError(t, err)
	require.Equal(t, ProviderGenAI, cfg.AI.Provider)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "openai")
	_, err := Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("STORAGE_BACKEND", "postgres")
	_, err = Load()
	require.Error(t, err)

	clearEnv(t)
	t.Setenv("TRANSPORT_BASE_DELAY", "soon")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadParsesOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("AI_TOOLS", "file_read, http_request,,")
	t.Setenv("TRANSPORT_MAX_ATTEMPTS", "0")
	t.Setenv("TRANSPORT_BASE_DELAY", "250ms")
	t.Setenv("SESSION_COMPLETION_TIMEOUT", "15")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, []string{"file_read", "http_request"}, cfg.AI.Tools)
	require.Equal(t, 1, cfg.Transport.MaxAttempts)
	require.Equal(t, 250*time.Millisecond, cfg.Transport.BaseDelay)
	require.Equal(t, 15*time.Second, cfg.Session.CompletionTimeout)
}

func TestLoadSettingsFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "chat.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settings:\n  selectedModel: claude\n  language: zh\n  darkMode: true\n"), 0o600))
	t.Setenv("CHAT_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "claude", cfg.Session.Defaults.SelectedModel)
	require.Equal(t, "zh", cfg.Session.Defaults.Language)
	require.True(t, cfg.Session.Defaults.DarkMode)
	require.InDelta(t, 0.7, cfg.Session.Defaults.Temperature, 1e-9)
	require.Equal(t, "You are a helpful AI assistant.", cfg.Session.Defaults.SystemPrompt)
}
