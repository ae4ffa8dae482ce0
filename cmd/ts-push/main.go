// Command ts-push publishes an MPEG-TS file to a hacktv-av listener at
// its natural rate, looping with continuous timestamps.
//
//	ts-push [-loop] [-duration 30] clip.ts srt://127.0.0.1:9000?streamid=live/cam1
//	ts-push -pin <base64 sha-256> clip.ts quic://127.0.0.1:4433/cam1
package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/t0nitogp/hacktv/internal/certs"
	"github.com/t0nitogp/hacktv/internal/ingest/quic"
)

func main() {
	loop := flag.Bool("loop", false, "Restart from the beginning at the end of the file")
	duration := flag.Float64("duration", 0, "File duration in seconds (default: from timestamps)")
	pin := flag.String("pin", "", "Base64 SHA-256 fingerprint of the QUIC server certificate")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintf(os.Stderr, "usage: ts-push [-loop] [-duration s] [-pin fp] <file.ts> <srt://host:port|quic://host:port/key>\n")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := run(ctx, flag.Arg(0), flag.Arg(1), *loop, *duration, *pin); err != nil && ctx.Err() == nil {
		slog.Error("push failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path, target string, loop bool, seconds float64, pin string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data)%packetSize != 0 {
		slog.Warn("file size not a multiple of the packet size", "size", len(data))
	}

	tl := scanTimestamps(data)
	if seconds <= 0 {
		seconds = float64(tl.duration()) / 90000
	}
	if seconds <= 0 {
		return errors.New("cannot tell the file duration; pass -duration")
	}
	src := newPacer(ctx, data, tl, seconds, loop)
	slog.Info("pushing", "file", path, "target", target, "seconds", seconds, "bytes_per_sec", int(src.rate))

	u, err := url.Parse(target)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "srt":
		return pushSRT(ctx, u, src)
	case "quic":
		return pushQUIC(ctx, u, pin, src)
	}
	return fmt.Errorf("unsupported target %q", target)
}

func pushSRT(ctx context.Context, u *url.URL, src io.Reader) error {
	cfg := srtgo.DefaultConfig()
	cfg.StreamID = u.Query().Get("streamid")

	conn, err := srtgo.Dial(u.Host, cfg)
	if err != nil {
		return fmt.Errorf("srt dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, packetSize*7)
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func pushQUIC(ctx context.Context, u *url.URL, pin string, src io.Reader) error {
	var tlsConf *tls.Config
	if pin == "" {
		slog.Warn("no -pin given; the server certificate is not verified")
		tlsConf = &tls.Config{InsecureSkipVerify: true, NextProtos: []string{quic.ALPN}}
	} else {
		raw, err := base64.StdEncoding.DecodeString(pin)
		if err != nil || len(raw) != 32 {
			return fmt.Errorf("invalid -pin %q", pin)
		}
		tlsConf = certs.PinnedClientConfig([32]byte(raw), quic.ALPN)
	}
	return quic.Publish(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), tlsConf, src)
}

// pacer serves the file at its natural byte rate, shifting timestamps
// forward on every loop.
type pacer struct {
	ctx   context.Context
	data  []byte
	tl    timeline
	rate  float64
	loop  bool
	chunk int

	pos   int
	sent  int64
	start time.Time
}

func newPacer(ctx context.Context, data []byte, tl timeline, seconds float64, loop bool) *pacer {
	return &pacer{
		ctx:   ctx,
		data:  data,
		tl:    tl,
		rate:  float64(len(data)) / seconds,
		loop:  loop,
		chunk: packetSize * 7,
	}
}

func (p *pacer) Read(b []byte) (int, error) {
	if p.start.IsZero() {
		p.start = time.Now()
	}
	if p.pos >= len(p.data) {
		if !p.loop {
			return 0, io.EOF
		}
		p.tl.shift(p.data, p.tl.duration())
		p.pos = 0
	}

	// Pace against the overall start so loop seams add no gap.
	due := time.Duration(float64(p.sent) / p.rate * float64(time.Second))
	if wait := due - time.Since(p.start); wait > 0 {
		select {
		case <-time.After(wait):
		case <-p.ctx.Done():
			return 0, p.ctx.Err()
		}
	}

	n := copy(b[:min(len(b), p.chunk)], p.data[p.pos:])
	p.pos += n
	p.sent += int64(n)
	return n, nil
}
