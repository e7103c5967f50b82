package logging

import (
	"fmt"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGraylogHandler returns a JSON handler writing GELF messages over UDP to
// address, together with the writer so the caller can close it.
func NewGraylogHandler(address, level string) (slog.Handler, *gelf.Writer, error) {
	w, err := gelf.NewWriter(address)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create graylog writer: %w", err)
	}
	w.Facility = "arena"
	return slog.NewJSONHandler(w, HandlerOptions(level)), w, nil
}
