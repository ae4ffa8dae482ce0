// Package ingest couples network publishers with the readers the
// demuxer consumes: a Stream is the byte source of one publisher, and a
// Registry hands new listener-side streams to whoever opens them.
package ingest

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t0nitogp/hacktv/internal/stream"
)

// Stats captures connection-level counters for one stream.
type Stats struct {
	BytesReceived int64         `json:"bytesReceived"`
	ReadCount     int64         `json:"readCount"`
	ConnectedAt   time.Time     `json:"connectedAt"`
	Uptime        time.Duration `json:"uptime"`
	RemoteAddr    string        `json:"remoteAddr"`
}

// Stream is the byte source of one publisher. Reads are counted; Close
// stops the publisher's transfer.
type Stream struct {
	Key       string
	StartedAt time.Time

	r    io.ReadCloser
	done chan struct{}
	once sync.Once

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// NewStream wraps a connection read directly by the consumer.
func NewStream(key, remote string, r io.ReadCloser) *Stream {
	s := &Stream{Key: key, StartedAt: time.Now(), r: r, done: make(chan struct{})}
	s.SetRemoteAddr(remote)
	return s
}

func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	if n > 0 {
		s.bytesReceived.Add(int64(n))
		s.readCount.Add(1)
	}
	return n, err
}

// Close closes the underlying reader and signals Done.
func (s *Stream) Close() error {
	err := s.r.Close()
	s.finish()
	return err
}

func (s *Stream) finish() {
	s.once.Do(func() { close(s.done) })
}

// Done is closed once the stream has been closed by either side.
func (s *Stream) Done() <-chan struct{} { return s.done }

// SetRemoteAddr stores the publisher's address for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the stream counters.
func (s *Stream) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt,
		Uptime:        time.Since(s.StartedAt),
		RemoteAddr:    addr,
	}
}

// Registry tracks listener-side streams by key. Each key has at most one
// publisher; new streams are handed to the onStream callback.
type Registry struct {
	log        *slog.Logger
	publishers *stream.Manager

	mu      sync.RWMutex
	streams map[string]*registered

	onStream func(*Stream)
}

type registered struct {
	stream *Stream
	pw     *io.PipeWriter
}

// NewRegistry creates a Registry. The onStream callback runs on its own
// goroutine for every registered stream. If log is nil, slog.Default()
// is used.
func NewRegistry(onStream func(*Stream), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:        log.With("component", "ingest-registry"),
		publishers: stream.NewManager(log),
		streams:    make(map[string]*registered),
		onStream:   onStream,
	}
}

// Register claims key for a publisher at remote and returns the Stream
// the consumer reads plus the writer the receiver copies into. It fails
// with stream.ErrPublisherActive while key has a publisher.
func (r *Registry) Register(key, remote string) (*Stream, io.WriteCloser, error) {
	if _, err := r.publishers.Acquire(key, remote); err != nil {
		return nil, nil, err
	}

	pr, pw := io.Pipe()
	s := NewStream(key, remote, pr)

	r.mu.Lock()
	r.streams[key] = &registered{stream: s, pw: pw}
	r.mu.Unlock()

	if r.onStream != nil {
		go r.onStream(s)
	}
	return s, pw, nil
}

// Active reports whether key has a publisher.
func (r *Registry) Active(key string) bool {
	return r.publishers.Active(key)
}

// Unregister ends the stream for key: its reader sees io.EOF once the
// buffered bytes are consumed.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	reg, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		reg.pw.Close()
		reg.stream.finish()
		stats := reg.stream.Stats()
		r.log.Info("stream ended", "key", key, "bytes", stats.BytesReceived,
			"reads", stats.ReadCount, "uptime", stats.Uptime.Round(time.Millisecond))
	}
	r.publishers.Release(key)
}

// Get returns the Stream for key.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.streams[key]
	if !ok {
		return nil, false
	}
	return reg.stream, true
}

// Receive copies src into w in reads of up to bufSize bytes until src
// ends or a write fails. A clean end of src returns nil.
func Receive(w io.Writer, src io.Reader, bufSize int) error {
	buf := make([]byte, bufSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
