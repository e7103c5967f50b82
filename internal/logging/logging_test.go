package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/pkg/core"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "arenalogs",
			want:    filepath.Join("arenalogs", "arena.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./arenalogs",
			want:    filepath.Join(".", "arenalogs", "arena.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "arena"),
			want:    filepath.Join("/var", "log", "arena", "arena.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LogFilePath(tt.logsDir, "arena", sessionStart))
		})
	}
}

func TestConsoleFileName(t *testing.T) {
	assert.Equal(t, "sample.Spinner_(2).console.log", ConsoleFileName("sample.Spinner (2)"))
	assert.Equal(t, "a_b.console.log", ConsoleFileName("a/b"))
}

func TestConsoles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "consoles")
	c, err := NewConsoles(dir)
	require.NoError(t, err)

	log := c.Console(core.RobotStatics{Name: "sample.Chatter"})
	log.Info().Int32("turn", 4).Msg("hello from turn 4")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(dir, "sample.Chatter.console.log"))
	require.NoError(t, err)
	line := string(data)
	assert.Contains(t, line, "hello from turn 4")
	assert.Contains(t, line, "robot=sample.Chatter")
	assert.False(t, strings.Contains(line, "\x1b["), "console files are written without color")
}

func TestConsoles_Sampled(t *testing.T) {
	dir := t.TempDir()
	c, err := NewConsoles(dir)
	require.NoError(t, err)

	log := c.Console(core.RobotStatics{Name: "spam"})
	for i := 0; i < 1000; i++ {
		log.Info().Msg("x")
	}
	require.NoError(t, c.Close())

	data, err := os.ReadFile(filepath.Join(dir, "spam.console.log"))
	require.NoError(t, err)
	lines := strings.Count(string(data), "\n")
	assert.Less(t, lines, 1000)
	assert.GreaterOrEqual(t, lines, 200)
}

func TestGraylogHandler(t *testing.T) {
	h, w, err := NewGraylogHandler("127.0.0.1:12201", "info")
	require.NoError(t, err)
	defer w.Close()
	assert.NotNil(t, h)
	assert.Equal(t, "arena", w.Facility)

	_, _, err = NewGraylogHandler("not an address", "info")
	assert.Error(t, err)
}
