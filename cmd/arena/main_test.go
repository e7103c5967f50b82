package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/internal/recording"
)

const duel = `
name: duel
rules:
  numRounds: 1
  maxTurns: 60
  seed: 7
robots:
  - entry: sample.SittingDuck
  - entry: sample.Fire
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDispatch_Robots(t *testing.T) {
	var out bytes.Buffer
	code := dispatch(context.Background(), []string{"robots"}, &out, &out)
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "sample.SittingDuck\n")
	assert.Contains(t, out.String(), "sample.Tracker\n")
}

func TestDispatch_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no args", nil, 2},
		{"unknown", []string{"fight"}, 2},
		{"help", []string{"help"}, 0},
		{"version", []string{"version"}, 0},
		{"run without battle", []string{"run"}, 1},
		{"run bad flag", []string{"run", "-nope"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			assert.Equal(t, tt.code, dispatch(context.Background(), tt.args, &out, &out))
		})
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", duel)
	unknown := writeFile(t, dir, "unknown.yaml", "robots: [{entry: sample.Nobody}]")
	broken := writeFile(t, dir, "broken.yaml", "robots: []")

	var out bytes.Buffer
	require.NoError(t, validateCommand([]string{good}, &out))
	assert.Contains(t, out.String(), "good.yaml: ok (2 robots, 1 rounds)")

	err := validateCommand([]string{good, unknown, broken}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown robot entry: sample.Nobody")
	assert.Contains(t, err.Error(), "broken.yaml")

	assert.Error(t, validateCommand(nil, &out))
}

func TestRun_EndToEnd(t *testing.T) {
	t.Cleanup(viper.Reset)

	var uploads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/battles/add" {
			if err := r.ParseMultipartForm(10 << 20); err == nil && r.FormValue("secret") == "k" {
				uploads.Add(1)
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	root := t.TempDir()
	cfg := map[string]any{
		"logLevel": "debug",
		"logsDir":  filepath.Join(root, "logs"),
		"battle":   map[string]any{"dataDir": filepath.Join(root, "data")},
		"storage": map[string]any{
			"type":   "memory",
			"memory": map[string]any{"outputDir": filepath.Join(root, "out"), "compressOutput": true},
		},
		"recording": map[string]any{"enabled": true, "dir": filepath.Join(root, "journal")},
		"monitor":   map[string]any{"interval": "10ms"},
		"results":   map[string]any{"url": server.URL, "apiKey": "k"},
	}
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	writeFile(t, root, config.FileName, string(raw))
	battlePath := writeFile(t, root, "duel.yaml", duel)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), options{configDir: root, battlePath: battlePath}, &out))

	assert.Contains(t, out.String(), "completed after 1 rounds")
	assert.Contains(t, out.String(), "sample.Fire")

	exports, err := filepath.Glob(filepath.Join(root, "out", "*.json.gz"))
	require.NoError(t, err)
	assert.Len(t, exports, 1)

	journals, err := filepath.Glob(filepath.Join(root, "journal", "*"+recording.Extension))
	require.NoError(t, err)
	require.Len(t, journals, 1)

	_, err = os.Stat(filepath.Join(root, "logs", "status.json"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), uploads.Load())

	logs, err := filepath.Glob(filepath.Join(root, "logs", "arena.*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	data, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "battle started"))
}
