package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/arhunt/model"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 6, cfg.PlacementConfig().MaxObjects)
	assert.Equal(t, 7.5, cfg.OriginConfig().EntryAccuracy)
	assert.Equal(t, 6.5, cfg.OriginConfig().ExitAccuracy)
	assert.Equal(t, time.Second, cfg.VisibilityConfig().ViewportInterval)
}

func TestLoadMergesJSONOverDefaults(t *testing.T) {
	path := writeFile(t, "hunt.json", `{
		"db_path": "/var/lib/hunt/hunt.db",
		"sweep_interval": "3s",
		"origin": {"no_fix_timeout": "8s", "projection": "ECEF"},
		"placement": {"max_objects": 4},
		"visibility": {"proximity_interval": "250ms"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/hunt/hunt.db", cfg.DBPath)
	assert.Equal(t, 3*time.Second, cfg.SweepInterval.Std())
	assert.Equal(t, ":8080", cfg.HTTPAddr, "omitted fields keep defaults")

	oc := cfg.OriginConfig()
	assert.Equal(t, 8*time.Second, oc.NoFixTimeout)
	assert.Equal(t, model.ProjectionECEF, oc.Projection)
	assert.Equal(t, 4, cfg.PlacementConfig().MaxObjects)
	assert.Equal(t, 250*time.Millisecond, cfg.VisibilityConfig().ProximityInterval)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	_, err := Load(writeFile(t, "hunt.yaml", "db_path: x"))
	assert.ErrorContains(t, err, ".json")

	_, err = Load(writeFile(t, "bad.json", `{"tick_interval": "soon"}`))
	assert.ErrorContains(t, err, "invalid duration")

	_, err = Load(writeFile(t, "inverted.json", `{"origin": {"entry_accuracy_m": 5, "exit_accuracy_m": 6}}`))
	assert.ErrorContains(t, err, "must not exceed entry accuracy")
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"HUNT_HTTP_ADDR":              ":9090",
		"HUNT_PLACEMENT_MAX_OBJECTS":  "9",
		"HUNT_ORIGIN_NO_FIX_TIMEOUT":  "2s",
		"HUNT_VISIBILITY_PROXIMITY_M": "1.5",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 9, cfg.Placement.MaxObjects)
	assert.Equal(t, 2*time.Second, cfg.Origin.NoFixTimeout.Std())
	assert.Equal(t, 1.5, cfg.Visibility.ProximityThreshold)

	env["HUNT_PLACEMENT_MAX_OBJECTS"] = "many"
	assert.Error(t, cfg.ApplyEnv(lookup))
}

func TestLoadDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "HUNT_TEST_DOTENV_KEY=from-file\n")
	t.Setenv("HUNT_TEST_DOTENV_KEY", "")
	os.Unsetenv("HUNT_TEST_DOTENV_KEY")

	require.NoError(t, LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("HUNT_TEST_DOTENV_KEY"))
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m30s"`)))
	assert.Equal(t, 90*time.Second, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`1000`)))
	assert.Equal(t, time.Microsecond, d.Std())

	b, err := Duration(1500 * time.Millisecond).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(b))
}

func TestTracingSection(t *testing.T) {
	env := map[string]string{
		"HUNT_TRACING_ENABLED":      "true",
		"HUNT_TRACING_EXPORTER":     "OTLP",
		"HUNT_TRACING_SAMPLE_RATIO": "0.25",
		"HUNT_OTLP_ENDPOINT":        "collector:4317",
	}
	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	require.NoError(t, cfg.Validate())

	tc := cfg.TracingConfig()
	assert.True(t, tc.Enabled)
	assert.Equal(t, "otlp", tc.Exporter)
	assert.Equal(t, "collector:4317", tc.Endpoint)
	assert.Equal(t, "huntd", tc.ServiceName)
	assert.Equal(t, 0.25, tc.SampleRatio)

	cfg.Tracing.SampleRatio = 2
	assert.ErrorContains(t, cfg.Validate(), "sample_ratio")
	cfg.Tracing.SampleRatio = 1
	cfg.Tracing.Exporter = "zipkin"
	assert.ErrorContains(t, cfg.Validate(), "unsupported tracing exporter")
}
