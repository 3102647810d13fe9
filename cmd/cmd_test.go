package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetcast/core/model"
)

// execute runs the root command with args and returns its stdout. Flag
// variables are package globals, so they are reset first.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgPath, envFile, seedDemo = "", "", false
	fleetStatus, fleetLine, fleetLimit, fleetJSON = "", "", 0, false
	predictWindow, reportOut, reportTitle = 24*time.Hour, "performance.html", "Prediction accuracy"
	seedFile, seedGTFS, seedPerRoute, seedTimeout = "", "", 2, 30*time.Second

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestFleetLs(t *testing.T) {
	out, err := execute(t, "fleet", "ls", "--line", "L3", "--json")
	require.NoError(t, err)
	var vs []model.Vehicle
	require.NoError(t, json.Unmarshal([]byte(out), &vs))
	require.NotEmpty(t, vs)
	for _, v := range vs {
		assert.Equal(t, "L3", v.RouteID)
	}

	out, err = execute(t, "fleet", "ls", "--status", "maintenance")
	require.NoError(t, err)
	assert.Contains(t, out, "B006")
	assert.NotContains(t, out, "B001")
}

func TestPredictGenerate(t *testing.T) {
	out, err := execute(t, "predict", "generate")
	require.NoError(t, err)
	assert.Regexp(t, `generated [1-9]\d* predictions`, out)
}

func TestPredictReport(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "perf.html")
	out, err := execute(t, "predict", "report", "--out", dst, "--title", "accuracy")
	require.NoError(t, err)
	assert.Contains(t, out, dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Contains(t, string(data), "accuracy")
}

func TestPredictStats(t *testing.T) {
	out, err := execute(t, "predict", "stats", "--window", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "ALGORITHM")
}

func TestSeed(t *testing.T) {
	out, err := execute(t, "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 3 routes and 6 vehicles")

	_, err = execute(t, "seed", "--file", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfigErrors(t *testing.T) {
	_, err := execute(t, "fleet", "ls", "--config", "config.toml")
	assert.ErrorContains(t, err, "load config")
}

func TestLoadEnv(t *testing.T) {
	assert.NoError(t, loadEnv(""))
	assert.NoError(t, loadEnv(filepath.Join(t.TempDir(), "absent.env")))

	p := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(p, []byte("FLEETCAST_TEST_VAR=hello\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FLEETCAST_TEST_VAR") })
	require.NoError(t, loadEnv(p))
	assert.Equal(t, "hello", os.Getenv("FLEETCAST_TEST_VAR"))
}
