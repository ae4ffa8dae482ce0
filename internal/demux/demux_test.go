package demux

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/t0nitogp/hacktv/internal/codec"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/mpegts"
)

const (
	videoPID = 0x100
	audioPID = 0x101
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// buildTS writes n MJPEG frames at 25 fps and one 40 ms LPCM packet per
// frame, starting at pts start.
func buildTS(t *testing.T, n int, start int64) []byte {
	t.Helper()
	var ts bytes.Buffer
	m := mpegts.NewMuxer(&ts, 0x1000,
		mpegts.MuxStream{PID: videoPID, StreamType: mpegts.StreamTypePrivatePES, StreamID: 0xE0, Registration: "MJPG"},
		mpegts.MuxStream{PID: audioPID, StreamType: mpegts.StreamTypeHDMVLPCM, StreamID: 0xBD},
	)
	m.TableInterval = 10
	frame := jpegBytes(t, 32, 24)
	audio := codec.AppendLPCM(nil, make([]int16, 1920*2), 2, 48000)
	for i := range n {
		pts := (start + int64(i)*3600) % (1 << 33)
		if err := m.WritePES(videoPID, pts, frame); err != nil {
			t.Fatal(err)
		}
		if err := m.WritePES(audioPID, pts, audio); err != nil {
			t.Fatal(err)
		}
	}
	return ts.Bytes()
}

func TestOpenTS(t *testing.T) {
	t.Parallel()
	d, err := Open(context.Background(), bytes.NewReader(buildTS(t, 10, 90000)), FormatAuto, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	streams := d.Streams()
	if len(streams) != 2 {
		t.Fatalf("got %d streams", len(streams))
	}
	v, a := streams[0], streams[1]
	if v.Type != media.TypeVideo || v.Codec != media.CodecMJPEG {
		t.Errorf("video = %+v", v)
	}
	if v.Width != 32 || v.Height != 24 {
		t.Errorf("video size %dx%d", v.Width, v.Height)
	}
	if v.FrameRate != media.R(25, 1) {
		t.Errorf("frame rate = %v", v.FrameRate)
	}
	if v.StartTime != 90000 || v.TimeBase != media.R(1, 90000) {
		t.Errorf("start %d tb %v", v.StartTime, v.TimeBase)
	}
	if a.Type != media.TypeAudio || a.Codec != media.CodecLPCM {
		t.Errorf("audio = %+v", a)
	}
	if a.SampleRate != 48000 || a.Channels != 2 || a.FrameSize != 1920 {
		t.Errorf("audio rate %d channels %d frame %d", a.SampleRate, a.Channels, a.FrameSize)
	}

	var video, audio int
	lastPTS := map[int]int64{}
	for {
		p, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if last, ok := lastPTS[p.StreamIndex]; ok && p.PTS <= last {
			t.Fatalf("stream %d pts went from %d to %d", p.StreamIndex, last, p.PTS)
		}
		lastPTS[p.StreamIndex] = p.PTS
		switch p.StreamIndex {
		case 0:
			video++
		case 1:
			audio++
		}
	}
	if video != 10 || audio != 10 {
		t.Fatalf("got %d video and %d audio packets, want 10 each", video, audio)
	}
}

func TestTSUnwrapsTimestamps(t *testing.T) {
	t.Parallel()
	start := int64(1<<33) - 2*3600
	d, err := Open(context.Background(), bytes.NewReader(buildTS(t, 5, start)), FormatMPEGTS, Options{})
	if err != nil {
		t.Fatal(err)
	}
	var pts []int64
	for {
		p, err := d.ReadPacket()
		if err != nil {
			break
		}
		if p.StreamIndex == 0 {
			pts = append(pts, p.PTS)
		}
	}
	for i, v := range pts {
		if want := start + int64(i)*3600; v != want {
			t.Fatalf("pts[%d] = %d, want %d", i, v, want)
		}
	}
}

func TestOpenTSWithoutStreams(t *testing.T) {
	t.Parallel()
	var ts bytes.Buffer
	m := mpegts.NewMuxer(&ts, 0x1000, mpegts.MuxStream{PID: 0x300, StreamType: 0x86, StreamID: 0xFC})
	if err := m.WritePES(0x300, 0, []byte("scte")); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), &ts, FormatAuto, Options{}); !errors.Is(err, ErrNoStreams) {
		t.Fatalf("got %v, want ErrNoStreams", err)
	}
}

func TestProbeUnknown(t *testing.T) {
	t.Parallel()
	_, err := Open(context.Background(), strings.NewReader("RIFF....WAVEfmt "), FormatAuto, Options{})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("got %v, want ErrUnknownFormat", err)
	}
	_, err = Open(context.Background(), strings.NewReader("whatever"), "mkv", Options{})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("got %v, want ErrUnknownFormat", err)
	}
}

func TestProbeShortTS(t *testing.T) {
	t.Parallel()
	f, err := Probe(bufio.NewReader(bytes.NewReader([]byte{0x47, 0, 0, 0x10})))
	if err != nil || f != FormatMPEGTS {
		t.Fatalf("got %q, %v", f, err)
	}
}

func TestIVF(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	if err := WriteIVFHeader(&buf, "MJPG", 32, 24, media.R(1001, 30000), 3); err != nil {
		t.Fatal(err)
	}
	frame := jpegBytes(t, 32, 24)
	for i := range 3 {
		if err := WriteIVFFrame(&buf, int64(10+i), frame); err != nil {
			t.Fatal(err)
		}
	}
	buf.Write([]byte{1, 2, 3}) // truncated trailer

	d, err := Open(context.Background(), &buf, FormatAuto, Options{})
	if err != nil {
		t.Fatal(err)
	}
	st := d.Streams()[0]
	if st.Codec != media.CodecMJPEG || st.TimeBase != media.R(1001, 30000) || st.FrameRate != media.R(30000, 1001) {
		t.Fatalf("stream = %+v", st)
	}
	if st.StartTime != 10 || st.Width != 32 {
		t.Fatalf("start %d width %d", st.StartTime, st.Width)
	}

	for i := range 3 {
		p, err := d.ReadPacket()
		if err != nil {
			t.Fatal(err)
		}
		if p.PTS != int64(10+i) || len(p.Data) != len(frame) {
			t.Fatalf("frame %d: pts %d len %d", i, p.PTS, len(p.Data))
		}
	}
	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
}

func TestSplitOpus(t *testing.T) {
	t.Parallel()
	au1 := bytes.Repeat([]byte{9 << 3}, 300)
	au2 := []byte{9 << 3, 1, 2}

	var p []byte
	p = append(p, 0x7F, 0xE0, 0xFF, 300-255)
	p = append(p, au1...)
	p = append(p, 0x7F, 0xF0, 3, 0x00, 0x10) // start trim
	p = append(p, au2...)

	aus := splitOpus(p)
	if len(aus) != 2 || !bytes.Equal(aus[0], au1) || !bytes.Equal(aus[1], au2) {
		t.Fatalf("got %d units", len(aus))
	}

	raw := []byte{9 << 3, 0xAA}
	if aus := splitOpus(raw); len(aus) != 1 || !bytes.Equal(aus[0], raw) {
		t.Fatalf("raw packet split into %d units", len(aus))
	}
}

func TestOpusStreamTimestamps(t *testing.T) {
	t.Parallel()
	var ts bytes.Buffer
	m := mpegts.NewMuxer(&ts, 0x1000,
		mpegts.MuxStream{PID: audioPID, StreamType: mpegts.StreamTypePrivatePES, StreamID: 0xBD, Registration: "Opus"})
	au := []byte{9 << 3, 0, 0} // 20 ms mono SILK
	var pes []byte
	for range 3 {
		pes = append(pes, 0x7F, 0xE0, byte(len(au)))
		pes = append(pes, au...)
	}
	if err := m.WritePES(audioPID, 9000, pes); err != nil {
		t.Fatal(err)
	}

	d, err := Open(context.Background(), &ts, FormatAuto, Options{})
	if err != nil {
		t.Fatal(err)
	}
	st := d.Streams()[0]
	if st.Codec != media.CodecOpus || st.Channels != 1 || st.FrameSize != 960 || st.SampleRate != 48000 {
		t.Fatalf("stream = %+v", st)
	}
	for i := range 3 {
		p, err := d.ReadPacket()
		if err != nil {
			t.Fatal(err)
		}
		if want := int64(9000 + i*1800); p.PTS != want {
			t.Fatalf("unit %d pts %d, want %d", i, p.PTS, want)
		}
	}
}

// stallingReader serves data in small chunks and, once past the first
// calm bytes, reports a deadline before every chunk.
type stallingReader struct {
	data    []byte
	calm    int
	read    int
	stalled bool
}

func (s *stallingReader) Read(p []byte) (int, error) {
	if s.read >= s.calm && !s.stalled {
		s.stalled = true
		return 0, fmt.Errorf("read: %w", os.ErrDeadlineExceeded)
	}
	s.stalled = false
	if len(s.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p[:min(len(p), 1000)], s.data)
	s.data = s.data[n:]
	s.read += n
	return n, nil
}

func TestTSTryAgain(t *testing.T) {
	t.Parallel()
	data := buildTS(t, 30, 0)
	d, err := Open(context.Background(), &stallingReader{data: data, calm: 16 * 1024}, FormatMPEGTS, Options{})
	if err != nil {
		t.Fatal(err)
	}

	retries, video := 0, 0
	for {
		p, err := d.ReadPacket()
		if errors.Is(err, ErrTryAgain) {
			retries++
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if p.StreamIndex == 0 {
			video++
		}
	}
	if retries == 0 {
		t.Fatal("no ErrTryAgain seen")
	}
	if video != 30 {
		t.Fatalf("got %d video packets after retries, want 30", video)
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	t.Parallel()
	data := buildTS(t, 3, 0)
	pr, pw := io.Pipe()
	go func() {
		pw.Write(data)
	}()

	d, err := Open(context.Background(), pr, FormatMPEGTS, Options{})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		for {
			if _, err := d.ReadPacket(); err != nil {
				done <- err
				return
			}
		}
	}()
	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock ReadPacket")
	}
}
