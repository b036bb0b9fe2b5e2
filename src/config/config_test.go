package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFilesMissing(t *testing.T) {
	cfg, dcfg, err := Load(t.TempDir(), "config.json", "dataconfig.json")
	require.NoError(t, err)

	assert.Equal(t, "sectores_criticos", cfg.Pipeline.TableName)
	assert.Equal(t, "Fallecidos", cfg.Pipeline.SortColumn)
	assert.Equal(t, 20, cfg.Pipeline.Limit)
	assert.Equal(t, "<Null>", cfg.Pipeline.NullValue)
	assert.Equal(t, filepath.Join("db", "proyecto.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("db", "export.csv"), cfg.ExportPath())

	assert.Equal(t, "fallecidos", dcfg.GetColumn("fallecidos"))
	assert.Equal(t, 5, dcfg.DefaultDepartments)
	assert.Equal(t, 10, dcfg.TopMunicipios)
}

func TestLoadOverridesFromJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{
		"pipeline": {"table_name": "sectores", "limit": 5, "schedule": "1h"},
		"dashboard": {"listen": ":9090"}
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dataconfig.json"), []byte(`{
		"columns": {"fallecidos": "Fallecidos"},
		"default_departments": 3
	}`), 0644))

	cfg, dcfg, err := Load(dir, "config.json", "dataconfig.json")
	require.NoError(t, err)

	assert.Equal(t, "sectores", cfg.Pipeline.TableName)
	assert.Equal(t, 5, cfg.Pipeline.Limit)
	assert.Equal(t, time.Hour, time.Duration(cfg.Pipeline.Schedule))
	assert.Equal(t, ":9090", cfg.Dashboard.Listen)
	// 未覆盖的字段保持默认
	assert.Equal(t, "Fallecidos", cfg.Pipeline.SortColumn)

	assert.Equal(t, "Fallecidos", dcfg.GetColumn("fallecidos"))
	assert.Equal(t, "anio", dcfg.GetColumn("anio"))
	assert.Equal(t, 3, dcfg.DefaultDepartments)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SINIESTROS_OUTPUT_DIR", "salida")

	cfg, _, err := Load(t.TempDir(), "config.json", "dataconfig.json")
	require.NoError(t, err)
	assert.Equal(t, "salida", cfg.Pipeline.OutputDir)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"pipeline":`), 0644))

	_, _, err := Load(dir, "config.json", "dataconfig.json")
	assert.Error(t, err)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.TableName = ""
	cfg.Pipeline.Limit = 0
	cfg.Pipeline.Encoding = "ebcdic"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table_name")
	assert.Contains(t, err.Error(), "limit")
	assert.Contains(t, err.Error(), "ebcdic")
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"90s"`)))
	assert.Equal(t, 90*time.Second, time.Duration(d))

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(out))

	assert.Error(t, d.UnmarshalJSON([]byte(`"soon"`)))
}

func TestLoadRepositoryConfig(t *testing.T) {
	cfg, dcfg, err := Load("../../config", "config.json", "dataconfig.json")
	require.NoError(t, err)

	assert.Equal(t, "sectores_criticos", cfg.Pipeline.TableName)
	assert.Zero(t, cfg.Pipeline.Schedule)
	assert.Equal(t, 3, cfg.Notify.Retries)
	assert.Equal(t, 2*time.Second, time.Duration(cfg.Notify.RetryInterval))
	assert.Equal(t, "fecha", dcfg.GetColumn("fecha"))
}

func TestNotifyEnvOverride(t *testing.T) {
	t.Setenv("SINIESTROS_NOTIFY_WEBHOOK", "https://oapi.dingtalk.com/robot/send?access_token=x")

	cfg, _, err := Load(t.TempDir(), "config.json", "dataconfig.json")
	require.NoError(t, err)
	assert.Equal(t, "https://oapi.dingtalk.com/robot/send?access_token=x", cfg.Notify.Webhook)
	assert.Empty(t, cfg.Notify.Secret)
}
