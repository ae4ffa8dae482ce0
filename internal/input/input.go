// Package input resolves an input URL to a running avsource.Source:
// a file or stdin, an SRT caller or listener, a QUIC listener, or the
// test card.
package input

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/t0nitogp/hacktv/internal/avsource"
	"github.com/t0nitogp/hacktv/internal/certs"
	"github.com/t0nitogp/hacktv/internal/ingest"
	"github.com/t0nitogp/hacktv/internal/ingest/quic"
	"github.com/t0nitogp/hacktv/internal/ingest/srt"
	"github.com/t0nitogp/hacktv/internal/testcard"
)

// Kind is the transport an input URL names.
type Kind int

const (
	KindFile Kind = iota
	KindStdin
	KindSRTCaller
	KindSRTListener
	KindQUIC
	KindTestCard
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindStdin:
		return "stdin"
	case KindSRTCaller:
		return "srt-caller"
	case KindSRTListener:
		return "srt-listener"
	case KindQUIC:
		return "quic"
	case KindTestCard:
		return "test"
	}
	return "unknown"
}

// ErrBadURL is returned for an input URL that cannot be resolved.
var ErrBadURL = errors.New("input: bad url")

// Target is a parsed input URL.
type Target struct {
	Kind Kind
	// Path is the file to read for KindFile.
	Path string
	// Addr is the host:port to dial or listen on.
	Addr string
	// StreamID is sent by an SRT caller.
	StreamID string
	// Name selects the test card pattern.
	Name string
}

// Parse resolves raw into a Target.
func Parse(raw string) (Target, error) {
	switch {
	case raw == "":
		return Target{}, fmt.Errorf("%w: empty", ErrBadURL)
	case raw == "-":
		return Target{Kind: KindStdin}, nil
	case raw == "test" || strings.HasPrefix(raw, "test:"):
		return Target{Kind: KindTestCard, Name: strings.TrimPrefix(strings.TrimPrefix(raw, "test"), ":")}, nil
	case strings.HasPrefix(raw, "file://"):
		return Target{Kind: KindFile, Path: strings.TrimPrefix(raw, "file://")}, nil
	case strings.HasPrefix(raw, "srt://"), strings.HasPrefix(raw, "quic://"):
	default:
		return Target{Kind: KindFile, Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %w", ErrBadURL, err)
	}
	if u.Port() == "" {
		return Target{}, fmt.Errorf("%w: %q has no port", ErrBadURL, raw)
	}
	addr := net.JoinHostPort(u.Hostname(), u.Port())
	q := u.Query()

	if u.Scheme == "quic" {
		return Target{Kind: KindQUIC, Addr: addr}, nil
	}
	t := Target{Kind: KindSRTCaller, Addr: addr, StreamID: q.Get("streamid")}
	switch mode := q.Get("mode"); mode {
	case "", "caller":
		if u.Hostname() == "" {
			return Target{}, fmt.Errorf("%w: srt caller needs a host", ErrBadURL)
		}
	case "listener":
		t.Kind = KindSRTListener
	default:
		return Target{}, fmt.Errorf("%w: unsupported srt mode %q", ErrBadURL, mode)
	}
	return t, nil
}

// Options tune how inputs are opened.
type Options struct {
	// Stdin replaces os.Stdin for "-".
	Stdin io.Reader
	// DialTimeout bounds an SRT caller handshake.
	DialTimeout time.Duration
	// Cert is presented by the QUIC listener; a self-signed one is
	// generated when nil.
	Cert *certs.CertInfo
	// Now drives the test card clock.
	Now func() time.Time
}

// Open resolves raw and starts a source on it. Listener inputs block
// until the first publisher connects or ctx is cancelled.
func Open(ctx context.Context, raw string, cfg avsource.Config, opts Options) (avsource.Source, error) {
	t, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "input", "kind", t.Kind.String())

	switch t.Kind {
	case KindTestCard:
		return testcard.New(t.Name, cfg, testcard.Options{Now: opts.Now})
	case KindStdin:
		in := opts.Stdin
		if in == nil {
			in = os.Stdin
		}
		return avsource.Open(ctx, in, cfg)
	case KindFile:
		f, err := os.Open(t.Path)
		if err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		src, err := avsource.Open(ctx, f, cfg)
		if err != nil {
			f.Close()
			return nil, err
		}
		log.Info("opened file", "path", t.Path)
		return src, nil
	case KindSRTCaller:
		s, err := srt.Dial(ctx, t.Addr, t.StreamID, opts.DialTimeout, cfg.Logger)
		if err != nil {
			return nil, err
		}
		src, err := avsource.Open(ctx, s, cfg)
		if err != nil {
			s.Close()
			return nil, err
		}
		return src, nil
	}
	return listen(ctx, t, cfg, opts, log)
}

// server is a listener-side ingest server.
type server interface {
	Start(ctx context.Context) error
}

// served is a source fed by a listener; closing it also stops the
// listener.
type served struct {
	avsource.Source
	cancel context.CancelFunc
	g      *errgroup.Group
}

func (s *served) SetPaused(paused bool) {
	if p, ok := s.Source.(avsource.Pauser); ok {
		p.SetPaused(paused)
	}
}

func (s *served) Close() error {
	err := s.Source.Close()
	s.cancel()
	return errors.Join(err, s.g.Wait())
}

func listen(ctx context.Context, t Target, cfg avsource.Config, opts Options, log *slog.Logger) (avsource.Source, error) {
	streams := make(chan *ingest.Stream, 1)
	var claimed atomic.Bool
	reg := ingest.NewRegistry(func(s *ingest.Stream) {
		if claimed.CompareAndSwap(false, true) {
			streams <- s
			return
		}
		log.Warn("ignoring extra publisher", "stream_key", s.Key, "remote", s.Stats().RemoteAddr)
		s.Close()
	}, cfg.Logger)

	var srv server
	switch t.Kind {
	case KindSRTListener:
		srv = srt.NewServer(t.Addr, reg, cfg.Logger)
	case KindQUIC:
		cert := opts.Cert
		if cert == nil {
			host, _, _ := net.SplitHostPort(t.Addr)
			var err error
			if cert, err = certs.Generate(0, host); err != nil {
				return nil, err
			}
		}
		log.Info("quic certificate", "fingerprint", cert.FingerprintBase64(), "not_after", cert.NotAfter)
		srv = quic.NewServer(t.Addr, cert, reg, cfg.Logger)
	default:
		return nil, fmt.Errorf("%w: %v is not a listener", ErrBadURL, t.Kind)
	}

	sctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(sctx)
	g.Go(func() error { return srv.Start(gctx) })

	log.Info("waiting for publisher", "addr", t.Addr)
	var s *ingest.Stream
	select {
	case s = <-streams:
	case <-gctx.Done():
		cancel()
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}
	log.Info("publisher connected", "stream_key", s.Key, "remote", s.Stats().RemoteAddr)

	src, err := avsource.Open(ctx, s, cfg)
	if err != nil {
		s.Close()
		cancel()
		return nil, errors.Join(err, g.Wait())
	}
	return &served{Source: src, cancel: cancel, g: g}, nil
}
