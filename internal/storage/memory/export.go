package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	v1 "github.com/OCAP2/arena/internal/storage/memory/export/v1"
	"github.com/OCAP2/arena/pkg/core"
)

// exportJSON writes the battle data to a (gzipped) JSON file. Caller holds
// the lock.
func (b *Backend) exportJSON() error {
	export := v1.Build(b.data())

	// Build filename
	name := strings.NewReplacer(" ", "_", ":", "_", "/", "_").Replace(b.battle.ID)
	timestamp := b.battle.StartTime.Format("20060102_150405")

	var filename string
	if b.cfg.CompressOutput {
		filename = fmt.Sprintf("%s_%s.json.gz", name, timestamp)
	} else {
		filename = fmt.Sprintf("%s_%s.json", name, timestamp)
	}

	outputPath := filepath.Join(b.cfg.OutputDir, filename)

	// Ensure output directory exists
	if err := os.MkdirAll(b.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	// Write file
	if b.cfg.CompressOutput {
		if err := writeGzipJSON(outputPath, export); err != nil {
			return err
		}
	} else {
		if err := writeJSON(outputPath, export); err != nil {
			return err
		}
	}

	b.lastExportPath = outputPath
	b.lastExportMeta = b.metadata()
	return nil
}

// metadata describes the exported battle. Caller holds the lock.
func (b *Backend) metadata() core.UploadMetadata {
	names := make([]string, 0, len(b.battle.Robots))
	team := false
	for _, s := range b.battle.Robots {
		names = append(names, s.Name)
		team = team || s.TeamName != ""
	}

	meta := core.UploadMetadata{
		BattleID: b.battle.ID,
		Name:     strings.Join(names, " vs "),
		Rounds:   len(b.rounds),
		Tag:      battleTag(len(names), team),
	}
	if b.results != nil && !b.results.EndTime.IsZero() {
		meta.Duration = b.results.EndTime.Sub(b.battle.StartTime).Seconds()
	}
	return meta
}

func battleTag(robots int, team bool) string {
	switch {
	case team:
		return "team"
	case robots == 2:
		return "1v1"
	default:
		return "melee"
	}
}

// GetExportedFilePath returns the path of the last exported file
func (b *Backend) GetExportedFilePath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportPath
}

// GetExportMetadata returns the metadata of the last exported battle
func (b *Backend) GetExportMetadata() core.UploadMetadata {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastExportMeta
}

func writeJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	return encoder.Encode(data)
}

func writeGzipJSON(path string, data v1.Export) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	gzWriter := gzip.NewWriter(f)
	if err := json.NewEncoder(gzWriter).Encode(data); err != nil {
		gzWriter.Close()
		return fmt.Errorf("failed to encode export: %w", err)
	}
	return gzWriter.Close()
}
