package queue

import (
	"bufio"
	"fmt"
	"sync/atomic"
	"time"
)

// Heartbeat tuning constants (spec §4.8 "Heartbeat payload" and resource
// caps).
const (
	HeartbeatInterval  = 10 * time.Second
	heartbeatMinBytes  = 16
	heartbeatMaxBytes  = 4096
	loadThreshold      = 0.75
	payloadScaleFactor = 64.0

	// JoinTimeout bounds how long the initial "joining at position N"
	// comment may take to flush before the connection is considered dead.
	JoinTimeout = 5 * time.Second

	// MaxMissedHeartbeats is the number of consecutive under-flushed
	// heartbeat intervals tolerated before the connection is destroyed.
	MaxMissedHeartbeats = 3
)

// HeartbeatSize implements spec §4.8's load-scaling formula:
// min(MAX, MIN + (load − LOAD_THRESHOLD)² · PAYLOAD_SCALE_FACTOR²) once load
// exceeds the threshold, otherwise MIN. Exported so callers can compute the
// expected byte count for WatchdogTripped.
func HeartbeatSize(load float64) int {
	if load <= loadThreshold {
		return heartbeatMinBytes
	}
	over := load - loadThreshold
	size := heartbeatMinBytes + int(over*over*payloadScaleFactor*payloadScaleFactor)
	if size > heartbeatMaxBytes {
		return heartbeatMaxBytes
	}
	return size
}

// StreamWriter abstracts fasthttp's SetBodyStreamWriter callback signature,
// letting the heartbeat loop be tested without a live fasthttp.RequestCtx.
type StreamWriter interface {
	Write(p []byte) (int, error)
	Flush() error
}

type bufioStreamWriter struct{ w *bufio.Writer }

func (b bufioStreamWriter) Write(p []byte) (int, error) { return b.w.Write(p) }
func (b bufioStreamWriter) Flush() error                { return b.w.Flush() }

// NewBufioStreamWriter adapts a *bufio.Writer (as passed to fasthttp's
// SetBodyStreamWriter) to StreamWriter.
func NewBufioStreamWriter(w *bufio.Writer) StreamWriter { return bufioStreamWriter{w: w} }

// HeartbeatWriter emits a "joining at position N" comment, then periodic
// heartbeat comment lines, and tracks flushed-byte throughput so the
// scheduler can destroy an unresponsive connection (spec §4.8), mirroring
// the teacher's writeSSE/SetBodyStreamWriter pattern in
// internal/proxy/gateway.go generalized to the queue's own heartbeat
// cadence instead of streaming provider chunks.
type HeartbeatWriter struct {
	w StreamWriter

	flushedSinceTick int64 // atomic
}

// NewHeartbeatWriter wraps a stream writer and emits the join comment,
// destroying the connection if the kernel buffer cannot drain it within
// JoinTimeout (spec §4.8's "Heartbeat join timeout").
func NewHeartbeatWriter(w StreamWriter, position int) (*HeartbeatWriter, error) {
	hw := &HeartbeatWriter{w: w}

	done := make(chan error, 1)
	go func() {
		if _, err := fmt.Fprintf(w, ": joining at position %d\n\n", position); err != nil {
			done <- err
			return
		}
		done <- w.Flush()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return hw, nil
	case <-time.After(JoinTimeout):
		return nil, fmt.Errorf("queue: heartbeat join timed out after %s", JoinTimeout)
	}
}

// Beat writes one heartbeat comment sized per the current load, and records
// the bytes flushed for the watchdog.
func (hw *HeartbeatWriter) Beat(load float64) error {
	n := HeartbeatSize(load)
	payload := randomBase64Padding(n)
	written, err := fmt.Fprintf(hw.w, ": %s\n\n", payload)
	if err != nil {
		return err
	}
	if err := hw.w.Flush(); err != nil {
		return err
	}
	atomic.AddInt64(&hw.flushedSinceTick, int64(written))
	return nil
}

// FlushedSinceTick returns and resets the byte count flushed since the last
// call, for the watchdog to compare against the expected heartbeat size.
func (hw *HeartbeatWriter) FlushedSinceTick() int64 {
	return atomic.SwapInt64(&hw.flushedSinceTick, 0)
}

// WatchdogTripped reports whether fewer than half of the expected heartbeat
// bytes were flushed over the last interval, meaning the client appears
// unresponsive and the connection should be destroyed (spec §4.8).
func WatchdogTripped(flushed int64, expected int) bool {
	return flushed < int64(expected)/2
}
