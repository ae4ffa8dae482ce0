package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/t0nitogp/hacktv/internal/avsource"
	"github.com/t0nitogp/hacktv/internal/input"
	"github.com/t0nitogp/hacktv/internal/media"
	"github.com/t0nitogp/hacktv/internal/metrics"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	m := metrics.New()
	cfg.source.Metrics = m
	cfg.source.Logger = slog.Default()

	slog.Info("hacktv-av starting",
		"version", version,
		"input", cfg.input,
		"fps", cfg.source.FrameRate,
		"sample_rate", cfg.source.SampleRate,
		"metrics", cfg.metricsAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsSrv := &http.Server{Addr: cfg.metricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return run(ctx, cfg)
	})

	if err := g.Wait(); err != nil {
		slog.Error("hacktv-av failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	src, err := input.Open(ctx, cfg.input, cfg.source, input.Options{DialTimeout: cfg.dialTimeout})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			slog.Warn("closing source", "error", err)
		}
	}()

	if p, ok := src.(avsource.Pauser); ok {
		go togglePause(ctx, p)
	}

	video, closeVideo, err := openOutput(cfg.videoOut)
	if err != nil {
		return err
	}
	defer closeOutput("video", closeVideo)
	audio, closeAudio, err := openOutput(cfg.audioOut)
	if err != nil {
		return err
	}
	defer closeOutput("audio", closeAudio)

	pl := &player{src: src, video: video, audio: audio}
	err = pl.play(ctx, cfg.source.FrameRate, cfg.realtime)
	slog.Info("playback ended", "frames", pl.frames, "samples", pl.samples)
	return err
}

// togglePause flips playback on every SIGUSR1.
func togglePause(ctx context.Context, p avsource.Pauser) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	defer signal.Stop(ch)

	paused := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			paused = !paused
			p.SetPaused(paused)
			slog.Info("playback", "paused", paused)
		}
	}
}

// openOutput opens path for raw output; "-" is stdout and "" discards.
func openOutput(path string) (io.Writer, func() error, error) {
	switch path {
	case "":
		return nil, func() error { return nil }, nil
	case "-":
		w := bufio.NewWriterSize(os.Stdout, 1<<20)
		return w, w.Flush, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening output: %w", err)
	}
	w := bufio.NewWriterSize(f, 1<<20)
	return w, func() error {
		return errors.Join(w.Flush(), f.Close())
	}, nil
}

func closeOutput(name string, close func() error) {
	if err := close(); err != nil {
		slog.Warn("closing output", "output", name, "error", err)
	}
}

// player pulls one video frame and one audio block per frame period and
// writes them as raw RGBA and s16le.
type player struct {
	src   avsource.Source
	video io.Writer
	audio io.Writer

	frames  int
	samples int
	pcm     []byte
}

func (p *player) play(ctx context.Context, fps media.Rational, realtime bool) error {
	period := time.Duration(int64(time.Second) * fps.Den / fps.Num)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for !p.src.EOF() {
		if realtime {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		done, err := p.step()
		if err != nil || done {
			return err
		}
	}
	return nil
}

// step handles one frame period. It reports done once the source has
// been aborted.
func (p *player) step() (bool, error) {
	f, err := p.src.ReadVideo()
	switch {
	case errors.Is(err, avsource.ErrAborted):
		return true, nil
	case errors.Is(err, io.EOF):
	case err != nil:
		return true, err
	default:
		if err := p.writeVideo(f); err != nil {
			return true, err
		}
	}

	samples, err := p.src.ReadAudio()
	switch {
	case errors.Is(err, avsource.ErrAborted):
		return true, nil
	case errors.Is(err, io.EOF):
	case err != nil:
		return true, err
	default:
		if err := p.writeAudio(samples); err != nil {
			return true, err
		}
	}
	return false, nil
}

func (p *player) writeVideo(f avsource.VideoFrame) error {
	if f.Empty() {
		return nil
	}
	p.frames++
	if p.video == nil {
		return nil
	}
	row := f.Width() * 4
	pix := f.Pix()
	for y := range f.Height() {
		off := y * f.Stride()
		if _, err := p.video.Write(pix[off : off+row]); err != nil {
			return fmt.Errorf("writing video: %w", err)
		}
	}
	return nil
}

func (p *player) writeAudio(samples []int16) error {
	p.samples += len(samples) / 2
	if p.audio == nil || len(samples) == 0 {
		return nil
	}
	p.pcm = p.pcm[:0]
	for _, s := range samples {
		p.pcm = binary.LittleEndian.AppendUint16(p.pcm, uint16(s))
	}
	if _, err := p.audio.Write(p.pcm); err != nil {
		return fmt.Errorf("writing audio: %w", err)
	}
	return nil
}
