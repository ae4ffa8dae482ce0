// Package metrics exposes pipeline counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stream counters are kept per media type.
type Stream struct {
	PacketsQueued   atomic.Uint64
	FramesDecoded   atomic.Uint64
	FramesDropped   atomic.Uint64
	FramesRepeated  atomic.Uint64
	FramesOutput    atomic.Uint64
	DecodeErrors    atomic.Uint64
	QueueBytes      atomic.Int64
	SamplesTrimmed  atomic.Uint64
	SamplesInjected atomic.Uint64
}

// Metrics holds the counters of one process.
type Metrics struct {
	PacketsDiscarded atomic.Uint64
	InputStalls      atomic.Uint64
	InputRetries     atomic.Uint64
	Sessions         atomic.Uint64
	ActiveSessions   atomic.Int64

	Video Stream
	Audio Stream

	registry *prometheus.Registry
}

// New returns metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.register()
	return m
}

func (m *Metrics) register() {
	counter := func(name, help string, v *atomic.Uint64) {
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: "hacktv", Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}
	gauge := func(name, help string, v *atomic.Int64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: "hacktv", Name: name, Help: help},
			func() float64 { return float64(v.Load()) },
		))
	}

	counter("packets_discarded_total", "Packets read for streams that are not decoded", &m.PacketsDiscarded)
	counter("input_stalls_total", "Times the input stage found a packet queue full while another was empty", &m.InputStalls)
	counter("input_retries_total", "Reads retried because a live source had no data yet", &m.InputRetries)
	counter("sessions_total", "Pipelines opened", &m.Sessions)
	gauge("sessions_active", "Pipelines currently open", &m.ActiveSessions)

	for _, s := range []struct {
		name string
		st   *Stream
	}{{"video", &m.Video}, {"audio", &m.Audio}} {
		counter(s.name+"_packets_queued_total", "Packets queued for decoding", &s.st.PacketsQueued)
		counter(s.name+"_frames_decoded_total", "Frames produced by the decoder", &s.st.FramesDecoded)
		counter(s.name+"_frames_dropped_total", "Frames discarded for arriving late", &s.st.FramesDropped)
		counter(s.name+"_frames_repeated_total", "Output frames repeated to fill timing gaps", &s.st.FramesRepeated)
		counter(s.name+"_frames_output_total", "Frames published to the consumer", &s.st.FramesOutput)
		counter(s.name+"_decode_errors_total", "Packets the decoder rejected", &s.st.DecodeErrors)
		gauge(s.name+"_queue_bytes", "Bytes waiting in the packet queue", &s.st.QueueBytes)
	}
	counter("audio_samples_trimmed_total", "Input samples trimmed to correct audio drift", &m.Audio.SamplesTrimmed)
	counter("audio_samples_injected_total", "Silent samples injected to correct audio drift", &m.Audio.SamplesInjected)
}

// Handler serves the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the metrics are exported on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// For returns the video or audio counters, or nil for a nil receiver.
func (m *Metrics) For(video bool) *Stream {
	if m == nil {
		return nil
	}
	if video {
		return &m.Video
	}
	return &m.Audio
}

func (m *Metrics) Discarded() {
	if m != nil {
		m.PacketsDiscarded.Add(1)
	}
}

func (m *Metrics) Stalled() {
	if m != nil {
		m.InputStalls.Add(1)
	}
}

func (m *Metrics) Retried() {
	if m != nil {
		m.InputRetries.Add(1)
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.Sessions.Add(1)
		m.ActiveSessions.Add(1)
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Add(-1)
	}
}

// The Stream recorders are no-ops on a nil receiver.

func (s *Stream) Queued(queueBytes int) {
	if s != nil {
		s.PacketsQueued.Add(1)
		s.QueueBytes.Store(int64(queueBytes))
	}
}

func (s *Stream) Decoded() {
	if s != nil {
		s.FramesDecoded.Add(1)
	}
}

func (s *Stream) Dropped() {
	if s != nil {
		s.FramesDropped.Add(1)
	}
}

func (s *Stream) Repeated() {
	if s != nil {
		s.FramesRepeated.Add(1)
	}
}

func (s *Stream) Output() {
	if s != nil {
		s.FramesOutput.Add(1)
	}
}

func (s *Stream) DecodeError() {
	if s != nil {
		s.DecodeErrors.Add(1)
	}
}

func (s *Stream) SetQueueBytes(n int) {
	if s != nil {
		s.QueueBytes.Store(int64(n))
	}
}

func (s *Stream) Trimmed(n int) {
	if s != nil && n > 0 {
		s.SamplesTrimmed.Add(uint64(n))
	}
}

func (s *Stream) Injected(n int) {
	if s != nil && n > 0 {
		s.SamplesInjected.Add(uint64(n))
	}
}
