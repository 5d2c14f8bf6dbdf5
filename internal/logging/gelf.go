package logging

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/Graylog2/go-gelf/gelf"
)

// NewGELFHandler returns a JSON handler that ships records to a Graylog
// GELF UDP input at addr. The closer releases the UDP socket.
func NewGELFHandler(addr string, level slog.Level) (slog.Handler, io.Closer, error) {
	w, err := gelf.NewWriter(addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create graylog writer: %w", err)
	}
	return slog.NewJSONHandler(w, HandlerOptions(level)), w, nil
}
