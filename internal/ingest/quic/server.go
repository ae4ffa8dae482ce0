// Package quic accepts MPEG-TS publishers over QUIC. A publisher opens
// one unidirectional stream, announces its stream key, then sends the
// transport stream until it closes the stream.
package quic

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"github.com/t0nitogp/hacktv/internal/certs"
	"github.com/t0nitogp/hacktv/internal/ingest"
)

// ALPN is the application protocol negotiated by publishers.
const ALPN = "hacktv-ingest"

// readBufferSize matches the SRT receiver: ten 7-packet payloads.
const readBufferSize = 1316 * 10

// Application error codes sent when closing a publisher connection.
const (
	codeDone            quicgo.ApplicationErrorCode = 0x0
	codeBadAnnounce     quicgo.ApplicationErrorCode = 0x1
	codePublisherActive quicgo.ApplicationErrorCode = 0x2
	codeShutdown        quicgo.ApplicationErrorCode = 0x3
)

func quicConfig() *quicgo.Config {
	return &quicgo.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}
}

// Server accepts QUIC publishers and registers them with the ingest
// registry.
type Server struct {
	log      *slog.Logger
	addr     string
	tls      *tls.Config
	registry *ingest.Registry
	ln       *quicgo.Listener
}

// NewServer creates a server that will listen on addr presenting cert.
// If log is nil, slog.Default() is used.
func NewServer(addr string, cert *certs.CertInfo, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "quic-server"),
		addr:     addr,
		tls:      cert.ServerConfig(ALPN),
		registry: registry,
	}
}

// Listen binds the UDP socket and returns its address.
func (s *Server) Listen() (net.Addr, error) {
	ln, err := quicgo.ListenAddr(s.addr, s.tls, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("quic: listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.log.Info("listening", "addr", ln.Addr())
	return ln.Addr(), nil
}

// Serve accepts publishers until ctx is cancelled. Listen must have
// succeeded first.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		return errors.New("quic: Serve before Listen")
	}
	defer s.ln.Close()

	for {
		conn, err := s.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quic: accept: %w", err)
		}
		go s.handleConn(ctx, conn)
	}
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if _, err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) handleConn(ctx context.Context, conn quicgo.Connection) {
	remote := conn.RemoteAddr().String()
	log := s.log.With("remote", remote)

	stop := context.AfterFunc(ctx, func() { conn.CloseWithError(codeShutdown, "shutting down") })
	defer stop()

	acceptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	st, err := conn.AcceptUniStream(acceptCtx)
	cancel()
	if err != nil {
		log.Debug("no publish stream", "error", err)
		conn.CloseWithError(codeBadAnnounce, "no publish stream")
		return
	}

	br := bufio.NewReaderSize(st, readBufferSize)
	key, err := ReadAnnounce(br)
	if err != nil {
		log.Warn("bad announce", "error", err)
		conn.CloseWithError(codeBadAnnounce, "bad announce")
		return
	}
	key = extractStreamKey(key)

	_, w, err := s.registry.Register(key, remote)
	if err != nil {
		log.Warn("publisher rejected", "stream_key", key, "error", err)
		conn.CloseWithError(codePublisherActive, err.Error())
		return
	}
	log.Info("publish", "stream_key", key)

	err = ingest.Receive(w, br, readBufferSize)
	s.registry.Unregister(key)
	if err != nil && ctx.Err() == nil {
		log.Debug("receive ended", "stream_key", key, "error", err)
		st.CancelRead(quicgo.StreamErrorCode(codeDone))
	}
	conn.CloseWithError(codeDone, "")
}

func extractStreamKey(key string) string {
	if key == "" {
		return "default"
	}
	return key
}

// Publish sends src to a QUIC ingest server under key. It returns once
// src is exhausted and the server has closed the connection.
func Publish(ctx context.Context, addr, key string, tlsConf *tls.Config, src io.Reader) error {
	conn, err := quicgo.DialAddr(ctx, addr, tlsConf, quicConfig())
	if err != nil {
		return fmt.Errorf("quic: dial %s: %w", addr, err)
	}
	defer conn.CloseWithError(codeDone, "")

	st, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("quic: open stream: %w", err)
	}
	if err := WriteAnnounce(st, key); err != nil {
		return fmt.Errorf("quic: announce: %w", err)
	}
	if _, err := io.Copy(st, src); err != nil {
		return fmt.Errorf("quic: send: %w", err)
	}
	if err := st.Close(); err != nil {
		return fmt.Errorf("quic: close stream: %w", err)
	}

	select {
	case <-conn.Context().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	var appErr *quicgo.ApplicationError
	if errors.As(context.Cause(conn.Context()), &appErr) && appErr.ErrorCode != codeDone {
		return fmt.Errorf("quic: publish rejected: %w", appErr)
	}
	return nil
}
