package launcher

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// slogWriter forwards a child process output stream to the structured logger,
// one record per line. Partial lines are buffered until their newline
// arrives.
type slogWriter struct {
	logger *slog.Logger
	level  slog.Level
	name   string
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// keep the partial line for the next Write
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

func (w *slogWriter) emit(line string) {
	if line == "" {
		return
	}
	w.logger.Log(context.Background(), w.level, line, "server", w.name, "stream", w.stream)
}
