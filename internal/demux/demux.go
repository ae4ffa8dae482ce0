// Package demux splits a container byte stream into stream-tagged packets.
// Open probes the stream layout up front so callers can choose streams and
// set up decoders before the first ReadPacket. MPEG-TS and IVF are
// supported.
package demux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/t0nitogp/hacktv/internal/media"
)

// Container formats accepted by Open. FormatAuto probes the first bytes.
const (
	FormatAuto   = ""
	FormatMPEGTS = "mpegts"
	FormatIVF    = "ivf"
)

var (
	// ErrTryAgain means no packet is available yet on a live source.
	ErrTryAgain = errors.New("demux: try again")

	// ErrNoStreams is returned by Open when the source has no audio or
	// video streams.
	ErrNoStreams = errors.New("demux: no audio or video streams")

	// ErrUnknownFormat is returned when the container cannot be
	// identified or is not supported.
	ErrUnknownFormat = errors.New("demux: unknown container format")
)

// Demuxer reads packets from an opened container.
type Demuxer interface {
	// Streams describes every elementary stream found while probing.
	// Packet.StreamIndex indexes this slice.
	Streams() []media.StreamInfo

	// ReadPacket returns the next packet in container order, ErrTryAgain
	// when a live source has nothing yet, or io.EOF at the end.
	ReadPacket() (*media.Packet, error)

	// Close releases the source. It may be called concurrently with
	// ReadPacket to unblock it.
	Close() error
}

// Options tunes Open.
type Options struct {
	// ProbeUnits bounds how many PES units are read while looking for
	// stream parameters. Zero means 256.
	ProbeUnits int

	Logger *slog.Logger
}

func (o Options) probeUnits() int {
	if o.ProbeUnits > 0 {
		return o.ProbeUnits
	}
	return 256
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Open identifies the container (unless format names one) and probes its
// streams. If r is an io.Closer it is closed by the demuxer's Close.
func Open(ctx context.Context, r io.Reader, format string, opts Options) (Demuxer, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	c := newCloser(r)

	if format == FormatAuto {
		f, err := Probe(br)
		if err != nil {
			c.Close()
			return nil, err
		}
		format = f
	}

	var (
		d   Demuxer
		err error
	)
	switch format {
	case FormatMPEGTS:
		d, err = openTS(ctx, br, c, opts)
	case FormatIVF:
		d, err = openIVF(br, c, opts)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return d, nil
}

// Probe peeks at the start of br and names its container format.
func Probe(br *bufio.Reader) (string, error) {
	head, err := br.Peek(4)
	if err != nil {
		return "", fmt.Errorf("demux: probe: %w", err)
	}
	if bytes.Equal(head, []byte("DKIF")) {
		return FormatIVF, nil
	}
	if head[0] == 0x47 {
		// A second sync byte one packet later confirms 188-byte framing.
		if b, err := br.Peek(189); err != nil || b[188] == 0x47 {
			return FormatMPEGTS, nil
		}
	}
	return "", ErrUnknownFormat
}

// closer closes the source at most once.
type closer struct {
	c    io.Closer
	once sync.Once
	err  error
}

func newCloser(r io.Reader) *closer {
	c, _ := r.(io.Closer)
	return &closer{c: c}
}

func (c *closer) Close() error {
	c.once.Do(func() {
		if c.c != nil {
			c.err = c.c.Close()
		}
	})
	return c.err
}
