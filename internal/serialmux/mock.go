package serialmux

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/xrsession/internal/monitoring"
)

// ReplayPort is a simulated receiver: it emits a fixed list of sentences in a
// loop, one per interval, and discards whatever is written to it.
type ReplayPort struct {
	*io.PipeReader
	w    *io.PipeWriter
	stop chan struct{}
	once sync.Once
}

func (p *ReplayPort) Write(b []byte) (int, error) {
	monitoring.Tracef("replay gps: ignoring command %q", bytes.TrimSpace(b))
	return len(b), nil
}

func (p *ReplayPort) Close() error {
	p.once.Do(func() {
		close(p.stop)
		p.w.Close()
		p.PipeReader.Close()
	})
	return nil
}

func (p *ReplayPort) run(sentences []string, interval time.Duration) {
	defer p.w.Close()
	if len(sentences) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; ; i = (i + 1) % len(sentences) {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}
		if _, err := io.WriteString(p.w, FrameSentence(sentences[i])); err != nil {
			return
		}
	}
}

// NewMockSerialMux returns a mux over a ReplayPort. Sentence bodies without
// '$' are framed with a checksum. Initialise sends nothing.
func NewMockSerialMux(sentences []string, interval time.Duration) *SerialMux[*ReplayPort] {
	r, w := io.Pipe()
	port := &ReplayPort{PipeReader: r, w: w, stop: make(chan struct{})}
	monitoring.Diagf("replay gps: %d sentences every %s", len(sentences), interval)
	go port.run(append([]string(nil), sentences...), interval)

	mux := NewSerialMux(port)
	mux.SetInitCommands(nil)
	return mux
}
