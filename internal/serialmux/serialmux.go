// Package serialmux shares one serial GPS receiver between many readers. A
// single Monitor loop reads NMEA sentences off the port, drops corrupt ones
// and fans the rest out to subscribers; commands to the receiver are
// serialised through the same mux.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/xrsession/internal/monitoring"
)

var ErrWriteFailed = errors.New("short write to serial port")

// subscriberBuffer absorbs a burst of sentences (one GGA/RMC/GSA/GSV cycle)
// before a slow reader starts losing lines.
const subscriberBuffer = 16

// SerialMuxInterface is what the geolocation backend, the receiver manager
// and the debug routes need from a receiver.
type SerialMuxInterface interface {
	// Subscribe returns an id and a channel of sentences without line
	// endings. The channel is closed on Unsubscribe or Close.
	Subscribe() (string, chan string)
	Unsubscribe(string)
	// SendCommand frames and writes one command.
	SendCommand(string) error
	// Monitor reads the port until ctx ends, the port hits EOF, or Close.
	Monitor(context.Context) error
	Close() error
	// Initialise configures the receiver's sentence output.
	Initialise() error
	// AttachAdminRoutes mounts loopback-only debug pages under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// DefaultInitCommands configures a MediaTek-based receiver to emit only GGA
// and RMC at 1 Hz.
var DefaultInitCommands = []string{
	"PMTK314,0,1,0,1,0,0,0,0,0,0,0,0,0,0,0,0,0,0,0",
	"PMTK220,1000",
}

// SerialMux multiplexes the receiver on port.
type SerialMux[T SerialPorter] struct {
	port         T
	state        *ReceiverState
	initCommands []string

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool

	closeOnce sync.Once
	closeErr  error
}

func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:         port,
		state:        NewReceiverState(),
		initCommands: DefaultInitCommands,
		subs:         make(map[string]chan string),
	}
}

// SetInitCommands replaces the commands Initialise sends. An empty list makes
// Initialise a no-op, for receivers that cannot be configured.
func (s *SerialMux[T]) SetInitCommands(commands []string) {
	s.initCommands = append([]string(nil), commands...)
}

// State returns the per-sentence counters updated by Monitor.
func (s *SerialMux[T]) State() *ReceiverState { return s.state }

func (s *SerialMux[T]) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subs[id] = ch
	return id, ch
}

func (s *SerialMux[T]) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

func (s *SerialMux[T]) Initialise() error {
	for _, command := range s.initCommands {
		if err := s.SendCommand(command); err != nil {
			return fmt.Errorf("init command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand writes command to the receiver. A bare body is framed with
// '$', its checksum and CRLF.
func (s *SerialMux[T]) SendCommand(command string) error {
	framed := FrameSentence(command)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	n, err := s.port.Write([]byte(framed))
	if err != nil {
		return err
	}
	if n != len(framed) {
		return ErrWriteFailed
	}
	monitoring.Tracef("serialmux: sent %q", strings.TrimSpace(framed))
	return nil
}

// readLines scans r on its own goroutine so Monitor can select on ctx while a
// read blocks. The returned error channel receives at most one value, after
// lines is closed.
func readLines(ctx context.Context, r io.Reader) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			errc <- err
		}
	}()
	return lines, errc
}

func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	lines, errc := readLines(ctx, s.port)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				if s.isClosed() {
					return nil
				}
				return <-errc
			}
			if s.isClosed() {
				return nil
			}
			s.publish(line)
		}
	}
}

// publish hands one line to every subscriber. A full subscriber loses the
// line rather than stalling the receiver.
func (s *SerialMux[T]) publish(line string) {
	if line == "" {
		return
	}
	if !VerifyChecksum(line) {
		s.state.ObserveCorrupt(line)
		monitoring.Tracef("serialmux: dropped corrupt sentence %q", line)
		return
	}
	s.state.Observe(line)

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- line:
		default:
			monitoring.Tracef("serialmux: subscriber %s full, line dropped", id)
		}
	}
}

func (s *SerialMux[T]) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close closes every subscriber channel and the port. Repeated calls return
// the first result.
func (s *SerialMux[T]) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		for id, ch := range s.subs {
			close(ch)
			delete(s.subs, id)
		}
		s.mu.Unlock()
		s.closeErr = s.port.Close()
	})
	return s.closeErr
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	AttachAdminRoutesFor(mux, s, s.state.Snapshot)
}
