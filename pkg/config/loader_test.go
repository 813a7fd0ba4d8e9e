package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfigMergesEnvironmentOverBase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "server:\n  port: \":8086\"\ndb:\n  host: localhost\n  port: 5432\n")
	writeFile(t, dir, "production.yaml", "db:\n  host: db.internal\n")

	cfgMap, err := LoadConfig("production", dir)
	require.NoError(t, err)

	var out struct {
		Server ServerConfig `yaml:"server"`
		DB     DBConfig     `yaml:"db"`
	}
	require.NoError(t, Decode(cfgMap, &out))
	require.Equal(t, ":8086", out.Server.Port)
	require.Equal(t, "db.internal", out.DB.Host)
	require.Equal(t, 5432, out.DB.Port)
}

func TestLoadConfigSubstitutesSecrets(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "db:\n  password: \"${DB_SECRET}\"\nlist:\n  - \"${DB_SECRET}\"\n")
	writeFile(t, dir, "secrets.env", "# comment\nDB_SECRET=\"s3cret\"\n")

	cfgMap, err := LoadConfig("local", dir)
	require.NoError(t, err)

	db := cfgMap["db"].(map[string]interface{})
	require.Equal(t, "s3cret", db["password"])
	require.Equal(t, []interface{}{"s3cret"}, cfgMap["list"])
}

func TestLoadConfigFallsBackToProcessEnv(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "ai:\n  api_key: \"${MAILFLOW_TEST_KEY}\"\n")
	t.Setenv("MAILFLOW_TEST_KEY", "from-env")

	cfgMap, err := LoadConfig("", dir)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfgMap["ai"].(map[string]interface{})["api_key"])
}

func TestLoadConfigMissingBase(t *testing.T) {
	_, err := LoadConfig("local", t.TempDir())
	require.Error(t, err)
}

func TestOverrideHelpers(t *testing.T) {
	t.Setenv("DB_HOST", "override")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("MAILFLOW_FLAG", "true")

	db := DBConfig{Host: "localhost", Port: 5432}
	OverrideDBFromEnv(&db)
	require.Equal(t, "override", db.Host)
	require.Equal(t, 6543, db.Port)

	var flag bool
	OverrideBool(&flag, "MAILFLOW_FLAG")
	require.True(t, flag)
}
