package logging

import (
	"bytes"
	"io"
	"log"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/config"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/events"
)

// New builds the application logger. Lines go to the rolling log file when
// one is configured and to every extra writer. The returned closer flushes
// and closes the file.
func New(cfg config.LoggingConfig, extra ...io.Writer) (*log.Logger, io.Closer) {
	writers := make([]io.Writer, 0, len(extra)+1)
	var closer io.Closer = nopCloser{}

	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		writers = append(writers, lj)
		closer = lj
	}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
	case 1:
		out = writers[0]
	default:
		out = io.MultiWriter(writers...)
	}
	return log.New(out, "", log.LstdFlags|log.Lmicroseconds), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ChannelWriter turns written bytes into log lines published to listeners
type ChannelWriter struct {
	mu      sync.Mutex
	partial []byte
	event   *events.ChannelEvent[string]
}

func NewChannelWriter() *ChannelWriter {
	return &ChannelWriter{event: events.NewChannelEvent[string](false)}
}

// Listen registers ch for every complete line. A full channel misses lines.
func (w *ChannelWriter) Listen(ch chan<- string) func() {
	return w.event.Listen(ch)
}

func (w *ChannelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.partial = append(w.partial, p...)
	var lines []string
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(w.partial[:i], "\r")))
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) == 0 {
		w.partial = nil
	}
	w.mu.Unlock()

	for _, line := range lines {
		w.event.Notify(line)
	}
	return len(p), nil
}
