package logging

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/OCAP2/arena/pkg/core"
)

// Consoles writes each robot's printed output to its own log file under a
// battle directory. Output is sampled so a chatty robot cannot flood disk.
type Consoles struct {
	dir string

	mu    sync.Mutex
	files []*os.File
}

// NewConsoles creates the console directory.
func NewConsoles(dir string) (*Consoles, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Consoles{dir: dir}, nil
}

// ConsoleFileName maps a robot name to its console file name.
func ConsoleFileName(name string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_")
	return r.Replace(name) + ".console.log"
}

// Console returns the logger for one robot. A file that cannot be opened
// silences the robot instead of failing the battle.
func (c *Consoles) Console(statics core.RobotStatics) zerolog.Logger {
	f, err := os.OpenFile(filepath.Join(c.dir, ConsoleFileName(statics.Name)), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return zerolog.Nop()
	}

	c.mu.Lock()
	c.files = append(c.files, f)
	c.mu.Unlock()

	w := zerolog.ConsoleWriter{
		Out:        f,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(w).With().Timestamp().Str("robot", statics.Name).Logger().
		Sample(&zerolog.BurstSampler{
			// 200 lines per second, then 1 in 100
			Burst:       200,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: 100},
		})
}

// Close closes every console file.
func (c *Consoles) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for _, f := range c.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.files = nil
	return first
}
