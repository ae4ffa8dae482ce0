package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/t0nitogp/hacktv/internal/avsource"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/overlay"
	"github.com/t0nitogp/hacktv/internal/transform"
)

// config is everything the command reads from its arguments and the
// environment.
type config struct {
	input       string
	source      avsource.Config
	videoOut    string
	audioOut    string
	metricsAddr string
	realtime    bool
	dialTimeout time.Duration
}

func loadConfig(args []string) (config, error) {
	if len(args) != 1 {
		return config{}, errors.New("usage: hacktv-av <input>")
	}
	c := config{
		input:       args[0],
		videoOut:    os.Getenv("VIDEO_OUT"),
		audioOut:    os.Getenv("AUDIO_OUT"),
		metricsAddr: os.Getenv("METRICS_ADDR"),
	}

	var err error
	if c.source.FrameRate, err = media.ParseRational(envOr("FPS", "25")); err != nil {
		return config{}, fmt.Errorf("FPS: %w", err)
	}
	if c.source.SampleRate, err = strconv.Atoi(envOr("SAMPLE_RATE", strconv.Itoa(avsource.DefaultSampleRate))); err != nil {
		return config{}, fmt.Errorf("SAMPLE_RATE: %w", err)
	}
	if c.source.Width, c.source.Height, err = parseSize(envOr("SIZE", "720x576")); err != nil {
		return config{}, fmt.Errorf("SIZE: %w", err)
	}
	if c.source.Fit, err = transform.ParseFit(os.Getenv("FIT")); err != nil {
		return config{}, fmt.Errorf("FIT: %w", err)
	}
	if c.source.Downmix, err = strconv.ParseBool(envOr("DOWNMIX", "false")); err != nil {
		return config{}, fmt.Errorf("DOWNMIX: %w", err)
	}
	if c.source.Volume, err = strconv.ParseFloat(envOr("VOLUME", "1"), 64); err != nil {
		return config{}, fmt.Errorf("VOLUME: %w", err)
	}
	minutes, err := strconv.ParseFloat(envOr("START_MINUTES", "0"), 64)
	if err != nil || minutes < 0 {
		return config{}, fmt.Errorf("START_MINUTES: invalid value %q", os.Getenv("START_MINUTES"))
	}
	c.source.Position = time.Duration(minutes * float64(time.Minute))
	if c.source.Timestamp, err = strconv.ParseBool(envOr("TIMESTAMP", "false")); err != nil {
		return config{}, fmt.Errorf("TIMESTAMP: %w", err)
	}
	c.source.LogoPath = os.Getenv("LOGO")
	c.source.LogoPosition = overlay.ParsePosition(os.Getenv("LOGO_POSITION"))
	c.source.Format = os.Getenv("FORMAT")
	if c.source.QueueCapacity, err = strconv.Atoi(envOr("QUEUE_BYTES", "0")); err != nil {
		return config{}, fmt.Errorf("QUEUE_BYTES: %w", err)
	}
	if c.realtime, err = strconv.ParseBool(envOr("REALTIME", "true")); err != nil {
		return config{}, fmt.Errorf("REALTIME: %w", err)
	}
	if c.dialTimeout, err = time.ParseDuration(envOr("DIAL_TIMEOUT", "10s")); err != nil {
		return config{}, fmt.Errorf("DIAL_TIMEOUT: %w", err)
	}
	return c, nil
}

// parseSize parses "WxH". An empty width ("x576") leaves the width to be
// derived from the source aspect ratio.
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid height in %q", s)
	}
	if ws == "" {
		return 0, h, nil
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid width in %q", s)
	}
	return w, h, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
