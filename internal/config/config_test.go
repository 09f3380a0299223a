// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "MODEL_ID", "CODEX_BIN", "CODEX_PROFILE", "RPC_TIMEOUT_MS",
		"SSE_KEEPALIVE_MS", "STREAM_CHUNK_CHARS", "HARD_REQUEST_TIMEOUT_MS",
		"API_KEY", "API_KEY_HEADER", "REQUIRE_BEARER", "MAX_CONCURRENT_REQUESTS",
	}
	for _, k := range keys {
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, defaults(), cfg)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_ID", "codex-custom")
	t.Setenv("REQUIRE_BEARER", "true")
	t.Setenv("STREAM_CHUNK_CHARS", "0")

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "codex-custom", cfg.ModelID)
	assert.True(t, cfg.RequireBearer)
	assert.Equal(t, 0, cfg.StreamChunkChars)
}

func TestLoad_YamlOverridesDefaultsButEnvWins(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("port: \"7070\"\nmodel_id: from-yaml\n"), 0o600))

	t.Setenv("MODEL_ID", "from-env")

	cfg, err := Load("", yamlPath)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Port, "yaml value used when env unset")
	assert.Equal(t, "from-env", cfg.ModelID, "env always wins over yaml")
}

func TestLoad_MissingYamlFileIsNotAnError(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
}

func TestLoad_InvalidYamlReturnsError(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("not: valid: yaml: ["), 0o600))

	_, err := Load("", yamlPath)
	assert.Error(t, err)
}

func TestEnvIntOK_DistinguishesZeroFromUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("STREAM_CHUNK_CHARS", "0")

	v, ok := envIntOK("STREAM_CHUNK_CHARS")
	assert.True(t, ok)
	assert.Equal(t, 0, v)

	_, ok = envIntOK("MAX_CONCURRENT_REQUESTS")
	assert.False(t, ok)
}
