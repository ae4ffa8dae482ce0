package quic

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// msgAnnounce opens every publish stream and names the stream key.
const msgAnnounce uint64 = 0x1

// maxKeyLen bounds the announced stream key.
const maxKeyLen = 1024

// ErrBadAnnounce is returned for a publish stream that does not start
// with a well-formed announce message.
var ErrBadAnnounce = errors.New("quic: malformed announce")

// ReadAnnounce reads the announce message at the start of a publish
// stream and returns the stream key. Wire format:
// [message_type (varint)] [key_length (varint)] [key].
func ReadAnnounce(br *bufio.Reader) (string, error) {
	msgType, err := quicvarint.Read(br)
	if err != nil {
		return "", fmt.Errorf("quic: read message type: %w", err)
	}
	if msgType != msgAnnounce {
		return "", fmt.Errorf("%w: message type 0x%x", ErrBadAnnounce, msgType)
	}
	n, err := quicvarint.Read(br)
	if err != nil {
		return "", fmt.Errorf("quic: read key length: %w", err)
	}
	if n > maxKeyLen {
		return "", fmt.Errorf("%w: key of %d bytes", ErrBadAnnounce, n)
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(br, key); err != nil {
		return "", fmt.Errorf("quic: read key: %w", err)
	}
	return string(key), nil
}

// WriteAnnounce writes the announce message as a single Write call.
func WriteAnnounce(w io.Writer, key string) error {
	if len(key) > maxKeyLen {
		return fmt.Errorf("%w: key of %d bytes", ErrBadAnnounce, len(key))
	}
	buf := quicvarint.Append(nil, msgAnnounce)
	buf = quicvarint.Append(buf, uint64(len(key)))
	buf = append(buf, key...)
	_, err := w.Write(buf)
	return err
}
