package srt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/t0nitogp/hacktv/internal/ingest"
)

// DefaultDialTimeout bounds the SRT handshake when dialing a source.
const DefaultDialTimeout = 10 * time.Second

// Dial connects to a remote SRT listener in caller mode and returns the
// connection as an ingest stream. An empty streamID sends none.
func Dial(ctx context.Context, addr, streamID string, timeout time.Duration, log *slog.Logger) (*ingest.Stream, error) {
	if addr == "" {
		return nil, fmt.Errorf("srt: address is required")
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-caller")
	log.Info("dialing", "address", addr, "stream_id", streamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	// Close any connection that completes after we gave up.
	abandon := func() {
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", addr, res.err)
		}
		log.Info("connected", "address", addr)
		return ingest.NewStream(extractStreamKey(streamID), addr, callerConn{res.conn}), nil
	case <-timer.C:
		abandon()
		return nil, fmt.Errorf("srt: dial %s timed out after %s", addr, timeout)
	case <-ctx.Done():
		abandon()
		return nil, ctx.Err()
	}
}

// callerConn adapts an SRT connection to io.ReadCloser.
type callerConn struct {
	c *srtgo.Conn
}

func (c callerConn) Read(p []byte) (int, error) { return c.c.Read(p) }

func (c callerConn) Close() error {
	c.c.Close()
	return nil
}
