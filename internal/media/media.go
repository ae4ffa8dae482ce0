// Package media defines the packet, frame, and stream types that flow
// through the hacktv source pipeline, from demuxing through the pull API.
package media

import (
	"image"
	"math"
)

// NoPTS marks a timestamp that is unknown.
const NoPTS int64 = math.MinInt64

// Type is the kind of elementary stream.
type Type int

// Stream kinds.
const (
	TypeUnknown Type = iota
	TypeVideo
	TypeAudio
)

func (t Type) String() string {
	switch t {
	case TypeVideo:
		return "video"
	case TypeAudio:
		return "audio"
	}
	return "unknown"
}

// Codec names a compressed elementary stream format.
type Codec string

// Codecs recognised by the demuxers. Not every recognised codec has a
// decoder; see codec.Registered.
const (
	CodecMJPEG Codec = "mjpeg"
	CodecVP8   Codec = "vp8"
	CodecH264  Codec = "h264"
	CodecH265  Codec = "h265"
	CodecMPEG2 Codec = "mpeg2video"
	CodecOpus  Codec = "opus"
	CodecLPCM  Codec = "pcm_bluray"
	CodecAAC   Codec = "aac"
	CodecMP2   Codec = "mp2"
	CodecAC3   Codec = "ac3"
)

// StreamInfo describes one elementary stream found by a demuxer.
type StreamInfo struct {
	Index     int
	Type      Type
	Codec     Codec
	TimeBase  Rational
	StartTime int64 // in TimeBase units, NoPTS when unknown

	// Video
	Width        int
	Height       int
	FrameRate    Rational
	SampleAspect Rational

	// Audio
	SampleRate int
	Channels   int
	FrameSize  int // samples per channel per packet, 0 when variable
}

// Packet is one compressed unit read from a demuxer. A packet has exactly
// one owner at a time: the demuxer, a queue, or a decoder.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	Keyframe    bool
	Data        []byte
}

// Size is the payload size in bytes used for queue accounting.
func (p *Packet) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// VideoFrame is a decoded picture. Image is usually an *image.YCbCr from
// a decoder or an *image.RGBA after scaling.
type VideoFrame struct {
	Image         image.Image
	SampleAspect  Rational
	Interlaced    bool
	TopFieldFirst bool
	PTS           int64
}

// Width returns the picture width in pixels.
func (f *VideoFrame) Width() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dx()
}

// Height returns the picture height in pixels.
func (f *VideoFrame) Height() int {
	if f == nil || f.Image == nil {
		return 0
	}
	return f.Image.Bounds().Dy()
}

// AudioFrame is a block of decoded signed 16-bit interleaved samples.
type AudioFrame struct {
	Samples    []int16
	Channels   int
	SampleRate int
	PTS        int64
}

// NumSamples returns the number of samples per channel.
func (f *AudioFrame) NumSamples() int {
	if f == nil || f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}
