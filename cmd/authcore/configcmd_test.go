// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/authcore/authcore/internal/config"
	"github.com/authcore/authcore/pkg/errutil"
)

func setSecrets(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvAccessSecret, strings.Repeat("a", config.MinSecretLength))
	t.Setenv(config.EnvRefreshSecret, strings.Repeat("r", config.MinSecretLength))
	t.Setenv(config.EnvResetSecret, strings.Repeat("x", config.MinSecretLength))
	t.Setenv(config.EnvResendAPIKey, "")
	t.Setenv(config.EnvDatabaseURL, "")
}

func TestConfigShow_HidesSecrets(t *testing.T) {
	setSecrets(t)

	output, err := execute(t, "config", "show",
		"--addr", ":9999",
		"--database-url", "postgres://authcore:hunter2@db/authcore")
	require.NoError(t, err)

	assert.NotContains(t, output, strings.Repeat("a", config.MinSecretLength))
	assert.NotContains(t, output, "hunter2")

	var shown map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(output), &shown))
	server, ok := shown["server"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, ":9999", server["addr"])
	secrets, ok := shown["secrets"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, secrets["access_secret_set"])
	assert.Equal(t, false, secrets["resend_api_key_set"])
}

func TestConfigSchema(t *testing.T) {
	output, err := execute(t, "config", "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &schema))
	assert.Equal(t, config.SchemaID, schema["$id"])
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		setSecrets(t)
		output, err := execute(t, "config", "validate")
		require.NoError(t, err)
		assert.Contains(t, output, "configuration is valid")
	})

	t.Run("missing secrets", func(t *testing.T) {
		setSecrets(t)
		t.Setenv(config.EnvResetSecret, "")
		_, err := execute(t, "config", "validate")
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_SECRET_INVALID")
	})

	t.Run("invalid file", func(t *testing.T) {
		setSecrets(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server:\n  adr: \":80\"\n"), 0o600))
		_, err := execute(t, "config", "validate", "--config", path)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "CONFIG_SCHEMA_INVALID")
	})
}
