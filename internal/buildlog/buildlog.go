// Package buildlog wires up the process-wide logging backend shared by
// every subsystem, following the same shape as lnd's log.go: a rotating
// file backend plus stdout, handing out one btclog.Logger per subsystem
// tag.
package buildlog

import (
	"os"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// Backend fans log writes out to stdout and a rotating log file, and
// mints one tagged sub-logger per subsystem (RESV, CGTW, SMON, ...).
type Backend struct {
	backend *btclog.Backend
	rotator *rotator.Rotator
}

// NewBackend opens (or creates) the rotating log file at logPath and
// returns a Backend ready to mint subsystem loggers. maxRolls bounds how
// many rotated files are retained, matching the rotator's own knob.
func NewBackend(logPath string, maxRolls int) (*Backend, error) {
	r, err := rotator.New(logPath, 10*1024, false, maxRolls)
	if err != nil {
		return nil, err
	}

	writer := &multiWriter{w: []writeFlusher{os.Stdout, r}}
	return &Backend{
		backend: btclog.NewBackend(writer),
		rotator: r,
	}, nil
}

// Logger mints a subsystem logger tagged with the given short subsystem
// code (e.g. "RESV", "CGTW"), matching the teacher's per-package
// subsystem-tag convention.
func (b *Backend) Logger(subsystem string) btclog.Logger {
	l := b.backend.Logger(subsystem)
	l.SetLevel(btclog.LevelInfo)
	return l
}

// Close flushes and closes the underlying rotator.
func (b *Backend) Close() error {
	if b.rotator == nil {
		return nil
	}
	return b.rotator.Close()
}

type writeFlusher interface {
	Write(p []byte) (int, error)
}

// multiWriter fans writes out to stdout and the rotator without pulling
// in a third dependency for something this small.
type multiWriter struct {
	w []writeFlusher
}

func (m *multiWriter) Write(p []byte) (int, error) {
	for _, w := range m.w {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
