// Package probe extracts playback metadata from stored media by running ffprobe.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/memohai/mediastore/internal/mediatype"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultBinary  = "ffprobe"
	DefaultTimeout = 10 * time.Second
	DefaultFPS     = 30
)

// maxOutputBytes caps how much prober output is buffered.
const maxOutputBytes = 4 << 20

// ErrProbeFailed wraps every probe failure. Callers downgrade it to "no metadata".
var ErrProbeFailed = errors.New("probe failed")

// MediaInfo is the derived playback metadata. Images carry only dimensions.
type MediaInfo struct {
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	WidthPx         int      `json:"width_px"`
	HeightPx        int      `json:"height_px"`
	FPS             *float64 `json:"fps,omitempty"`
	FrameCount      *int64   `json:"frame_count,omitempty"`
}

// Options configures a Prober.
type Options struct {
	Binary     string
	Timeout    time.Duration
	DefaultFPS float64
}

// Prober runs the external probing utility with a bounded wait.
type Prober struct {
	binary     string
	timeout    time.Duration
	defaultFPS float64
	logger     *slog.Logger
}

// New creates a Prober, filling zero options with defaults.
func New(log *slog.Logger, opts Options) *Prober {
	if log == nil {
		log = slog.Default()
	}
	if strings.TrimSpace(opts.Binary) == "" {
		opts.Binary = DefaultBinary
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DefaultFPS <= 0 {
		opts.DefaultFPS = DefaultFPS
	}
	return &Prober{
		binary:     opts.Binary,
		timeout:    opts.Timeout,
		defaultFPS: opts.DefaultFPS,
		logger:     log.With(slog.String("service", "probe")),
	}
}

// Probe invokes the prober once on path and derives MediaInfo for kind.
func (p *Prober) Probe(ctx context.Context, path string, kind mediatype.Kind) (*MediaInfo, error) {
	out, err := p.run(ctx, path)
	if err != nil {
		return nil, err
	}
	return Parse(out, kind, p.defaultFPS)
}

// Enrich is Probe with failures absorbed: it logs and returns nil.
func (p *Prober) Enrich(ctx context.Context, path string, kind mediatype.Kind) *MediaInfo {
	info, err := p.Probe(ctx, path, kind)
	if err != nil {
		p.logger.Warn("metadata unavailable",
			slog.String("path", path),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
		return nil
	}
	return info
}

func (p *Prober) run(ctx context.Context, path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	// Kill stragglers holding the pipes after the context expires.
	cmd.WaitDelay = time.Second
	stdout := &limitedBuffer{max: maxOutputBytes}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	p.logger.Debug("probe finished",
		slog.String("path", path),
		slog.Duration("elapsed", time.Since(start)),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s: %v: %s", ErrProbeFailed, path, err, msg)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrProbeFailed, path, err)
	}
	if stdout.overflow {
		return nil, fmt.Errorf("%w: %s: output exceeds %d bytes", ErrProbeFailed, path, maxOutputBytes)
	}
	return stdout.Bytes(), nil
}

// limitedBuffer stops accepting bytes after max and records the overflow.
type limitedBuffer struct {
	bytes.Buffer
	max      int
	overflow bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - b.Len()
	if len(p) > room {
		b.overflow = true
		if room > 0 {
			b.Buffer.Write(p[:room])
		}
		return len(p), nil
	}
	return b.Buffer.Write(p)
}
