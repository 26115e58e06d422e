package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/renderflow/config"
	"github.com/BaSui01/renderflow/internal/history"
	"github.com/BaSui01/renderflow/testutil"
	"github.com/BaSui01/renderflow/types"
)

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	body := fmt.Sprintf(`
render:
  provider: edit
  results_dir: %q
log:
  level: info
  format: json
  output_paths: [%q]
history:
  enabled: true
  driver: sqlite
  dsn: %q
%s`, filepath.Join(dir, "results"), filepath.Join(dir, "renderflow.log"), filepath.Join(dir, "history.db"), extra)
	path := filepath.Join(dir, "renderflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestParseGenerateFlags(t *testing.T) {
	g, err := parseGenerateFlags([]string{
		"--provider", "queued",
		"--image", "view.png",
		"--ref", "a.png", "--ref", "b.png",
		"--prompt", "dusk",
		"--format", "jpeg",
		"--strength", "0.8",
		"--steps", "30",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "queued", g.provider)
	assert.Equal(t, "view.png", g.req.SourceImagePath)
	assert.Equal(t, []string{"a.png", "b.png"}, g.req.ReferenceImagePaths)
	assert.Equal(t, "dusk", g.req.Prompt)
	assert.Equal(t, types.OutputJPEG, g.req.OutputFormat)
	assert.Equal(t, map[string]float64{types.ParamStrength: 0.8, types.ParamSteps: 30}, g.req.Params)
}

func TestParseGenerateFlags_UnsetParamsStayEmpty(t *testing.T) {
	g, err := parseGenerateFlags([]string{"view.png"}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "view.png", g.req.SourceImagePath)
	assert.Nil(t, g.req.Params)
	assert.Empty(t, g.req.OutputFormat)
}

func TestParseGenerateFlags_Invalid(t *testing.T) {
	_, err := parseGenerateFlags([]string{"--strength", "strong"}, io.Discard)
	assert.Error(t, err)

	_, err = parseGenerateFlags([]string{"--format", "tiff"}, io.Discard)
	assert.Error(t, err)
}

func TestBuildLoggerConfig(t *testing.T) {
	cfg := buildLoggerConfig(config.LogConfig{Level: "warn", Format: "json"})
	assert.Equal(t, zapcore.WarnLevel, cfg.Level.Level())
	assert.Equal(t, "json", cfg.Encoding)
	assert.Equal(t, []string{"stderr"}, cfg.OutputPaths)
}

func TestBuildLoggerConfig_Verbose(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Logs")
	cfg := buildLoggerConfig(config.LogConfig{
		Level:       "error",
		Format:      "console",
		OutputPaths: []string{"stdout"},
		Verbose:     true,
		Dir:         dir,
	})

	assert.Equal(t, zapcore.DebugLevel, cfg.Level.Level())
	assert.Equal(t, "console", cfg.Encoding)
	assert.Equal(t, []string{"stdout", filepath.Join(dir, apiLogName)}, cfg.OutputPaths)
	assert.DirExists(t, dir)
}

func TestRun_VersionAndUsage(t *testing.T) {
	var out, errOut bytes.Buffer

	assert.Equal(t, 0, run([]string{"version"}, &out, &errOut))
	assert.Contains(t, out.String(), "RenderFlow dev")

	out.Reset()
	assert.Equal(t, 2, run([]string{"render"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command: render")

	assert.Equal(t, 2, run(nil, &out, &errOut))
}

func TestRun_GenerateEndToEnd(t *testing.T) {
	png := testutil.EncodeImage(t, ".png", testutil.GradientImage(8, 8))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf("edit:\n  api_key: sk-test-edit-key\n  base_url: %q\n", srv.URL))
	src := testutil.WriteImage(t, dir, "view.png", 16, 16)

	var out, errOut bytes.Buffer
	code := run([]string{"generate", "--config", cfgPath, "--image", src, "--prompt", "dusk"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())

	result := strings.TrimSpace(out.String())
	assert.Equal(t, filepath.Join(dir, "results", "edit"), filepath.Dir(result))
	assert.Equal(t, png, testutil.ReadFile(t, result))

	out.Reset()
	code = run([]string{"history", "--config", cfgPath, "--limit", "5"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "PROVIDER")
	assert.Contains(t, out.String(), result)

	logs := string(testutil.ReadFile(t, filepath.Join(dir, "renderflow.log")))
	testutil.AssertNotContains(t, logs, "sk-test-edit-key")
}

func TestRun_HistoryByID(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")

	store, err := history.Open(config.HistoryConfig{
		Enabled: true, Driver: "sqlite", DSN: filepath.Join(dir, "history.db"),
	}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Record(testutil.TestContext(t), &history.Entry{
		ID:           "3f0c2a8e-req",
		Provider:     "queued",
		Prompt:       "villa at dusk",
		SourcePath:   "/in/view.png",
		ErrorCode:    string(types.ErrAssetUnavailable),
		ErrorMessage: "result could not be downloaded",
		Attempts:     3,
		DurationMS:   4200,
	}))
	require.NoError(t, store.Close())

	var out, errOut bytes.Buffer
	code := run([]string{"history", "--config", cfgPath, "--id", "3f0c2a8e-req"}, &out, &errOut)
	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "3f0c2a8e-req")
	assert.Contains(t, out.String(), "villa at dusk")
	assert.Contains(t, out.String(), "ASSET_UNAVAILABLE result could not be downloaded")
	assert.Contains(t, out.String(), "4.2s")
	assert.NotContains(t, out.String(), "Result:")

	out.Reset()
	errOut.Reset()
	code = run([]string{"history", "--config", cfgPath, "--id", "missing"}, &out, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "missing")
}

func TestLoadConfig_RunsValidation(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "transfer:\n  max_attempts: 0\n")

	_, err := loadConfig(cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
	assert.Contains(t, err.Error(), "max_attempts")
}

func TestBootstrap_StartsGuardHealthCheck(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf(
		"guard:\n  enabled: true\n  addr: %q\n  health_check_interval: 10ms\n", mr.Addr()))

	a, err := bootstrap(bootstrapOptions{configPath: cfgPath, withRuntime: true})
	require.NoError(t, err)
	defer a.close()
	require.NotNil(t, a.guard)

	// Redis 消失后由后台检查报告
	mr.Close()
	logPath := filepath.Join(dir, "renderflow.log")
	assert.Eventually(t, func() bool {
		data, err := os.ReadFile(logPath)
		return err == nil && strings.Contains(string(data), "render guard health check failed")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRun_GenerateReportsTypedError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid image file"}}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf("edit:\n  api_key: sk-test-edit-key\n  base_url: %q\n", srv.URL))
	src := testutil.WriteImage(t, dir, "view.png", 16, 16)

	var out, errOut bytes.Buffer
	code := run([]string{"generate", "--config", cfgPath, "--image", src, "--prompt", "dusk"}, &out, &errOut)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "[PROVIDER] edit")
	assert.Contains(t, errOut.String(), "Invalid image file")
}

func TestRun_GenerateMissingKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	src := testutil.WriteImage(t, dir, "view.png", 16, 16)

	var out, errOut bytes.Buffer
	code := run([]string{"generate", "--config", cfgPath, "--image", src}, &out, &errOut)

	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "API key is not configured")
}

func TestRun_Check(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, fmt.Sprintf("edit:\n  api_key: sk-test-edit-key\n  base_url: %q\n", srv.URL))

	var out, errOut bytes.Buffer
	code := run([]string{"check", "--config", cfgPath, "--provider", "edit"}, &out, &errOut)

	require.Equal(t, 0, code, errOut.String())
	assert.Contains(t, out.String(), "edit")
	assert.Contains(t, out.String(), "OK")
}

func TestDescribeError_ListsStrategies(t *testing.T) {
	err := types.NewError(types.ErrAssetUnavailable, "result could not be downloaded").
		WithProvider("queued").
		WithStrategies([]string{"http", "resty", "direct"})

	msg := describeError(err)
	assert.Contains(t, msg, "[ASSET_UNAVAILABLE] queued")
	assert.Contains(t, msg, "(tried: http, resty, direct)")
}
