package gps

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"io"
	"sync"

	"github.com/navmiles/navmiles/internal/monitoring"
	"github.com/navmiles/navmiles/internal/motion"
	"github.com/navmiles/navmiles/internal/timeutil"
)

// Source delivers raw fixes to any number of subscribers.
type Source interface {
	// Subscribe creates a fix channel. The returned ID identifies the
	// channel when unsubscribing.
	Subscribe() (string, chan motion.RawFix)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// Run reads the underlying stream until ctx is cancelled or the
	// stream ends.
	Run(ctx context.Context) error
	// Close closes all subscriber channels and the underlying stream.
	Close() error
}

// Mux reads NMEA sentences from a byte stream and fans parsed fixes out
// to subscribers. One Mux serves one receiver; slow subscribers drop
// fixes rather than stalling the read loop.
type Mux struct {
	r      io.Reader
	clock  timeutil.Clock
	device string

	subscriberMu sync.Mutex
	subscribers  map[string]chan motion.RawFix

	closingMu sync.Mutex
	closing   bool

	// Last RMC-derived motion carried onto GGA fixes, which have no
	// speed or course of their own.
	lastSpeedMPS float64
	lastCourse   float64
}

// NewMux builds a Mux over r. device is a label for log lines.
func NewMux(r io.Reader, clock timeutil.Clock, device string) *Mux {
	return &Mux{
		r:            r,
		clock:        clock,
		device:       device,
		subscribers:  make(map[string]chan motion.RawFix),
		lastSpeedMPS: -1,
		lastCourse:   -1,
	}
}

func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a buffered fix channel.
func (m *Mux) Subscribe() (string, chan motion.RawFix) {
	id := randomID()
	ch := make(chan motion.RawFix, 16)
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	m.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (m *Mux) Unsubscribe(id string) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	if ch, ok := m.subscribers[id]; ok {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Run scans the stream and publishes fixes until ctx is cancelled or
// the stream ends. Unparseable lines are counted, not fatal.
func (m *Mux) Run(ctx context.Context) error {
	scan := bufio.NewScanner(m.r)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer
	// loop can still observe ctx cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	badLines := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}
			m.closingMu.Lock()
			if m.closing {
				m.closingMu.Unlock()
				return nil
			}
			m.closingMu.Unlock()

			fix, ok := m.lineToFix(line)
			if !ok {
				badLines++
				if badLines%100 == 1 {
					monitoring.Logf("gps: %s: %d unparseable lines so far", m.device, badLines)
				}
				continue
			}
			m.publish(fix)
		}
	}
}

// lineToFix parses one sentence into a fix. RMC sentences also update
// the speed and course carried onto subsequent GGA fixes.
func (m *Mux) lineToFix(line string) (motion.RawFix, bool) {
	if line == "" {
		return motion.RawFix{}, false
	}
	s, err := ParseSentence(line)
	if err != nil {
		return motion.RawFix{}, false
	}

	switch v := s.(type) {
	case *RMC:
		if !v.Valid {
			return motion.RawFix{}, false
		}
		m.lastSpeedMPS = v.SpeedMPS
		m.lastCourse = v.Course
		return motion.RawFix{
			Pos:           v.Pos,
			SpeedMPS:      v.SpeedMPS,
			Course:        v.Course,
			DeviceHeading: -1,
			Time:          m.clock.Now(),
		}, true
	case *GGA:
		if v.Quality == 0 {
			return motion.RawFix{}, false
		}
		return motion.RawFix{
			Pos:           v.Pos,
			SpeedMPS:      m.lastSpeedMPS,
			Course:        m.lastCourse,
			DeviceHeading: -1,
			Accuracy:      v.HDOP,
			Time:          m.clock.Now(),
		}, true
	}
	return motion.RawFix{}, false
}

func (m *Mux) publish(fix motion.RawFix) {
	m.subscriberMu.Lock()
	defer m.subscriberMu.Unlock()
	for _, ch := range m.subscribers {
		select {
		case ch <- fix:
		default:
		}
	}
}

// Close closes all subscriber channels and the stream if it is
// closeable.
func (m *Mux) Close() error {
	m.closingMu.Lock()
	m.closing = true
	m.closingMu.Unlock()

	m.subscriberMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subscriberMu.Unlock()

	if c, ok := m.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

var _ Source = (*Mux)(nil)
