package probe

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/memohai/mediastore/internal/mediatype"
)

// output is the subset of `ffprobe -print_format json -show_format -show_streams` we read.
type output struct {
	Streams []stream `json:"streams"`
	Format  *format  `json:"format"`
}

type stream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

type format struct {
	Duration string `json:"duration"`
}

// Parse derives MediaInfo from prober JSON. It is a pure function of its
// inputs, so re-probing an unchanged file yields identical values.
func Parse(raw []byte, kind mediatype.Kind, defaultFPS float64) (*MediaInfo, error) {
	var out output
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrProbeFailed, err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("%w: no streams", ErrProbeFailed)
	}
	if defaultFPS <= 0 {
		defaultFPS = DefaultFPS
	}

	switch kind {
	case mediatype.KindImage:
		s := out.Streams[0]
		if s.Width <= 0 || s.Height <= 0 {
			return nil, fmt.Errorf("%w: image dimensions missing", ErrProbeFailed)
		}
		return &MediaInfo{WidthPx: s.Width, HeightPx: s.Height}, nil
	case mediatype.KindVideo:
		return parseVideo(out, defaultFPS)
	default:
		return nil, fmt.Errorf("%w: unsupported kind %q", ErrProbeFailed, kind)
	}
}

func parseVideo(out output, defaultFPS float64) (*MediaInfo, error) {
	var video *stream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, fmt.Errorf("%w: no video stream", ErrProbeFailed)
	}
	if video.Width <= 0 || video.Height <= 0 {
		return nil, fmt.Errorf("%w: video dimensions missing", ErrProbeFailed)
	}

	duration, ok := parseSeconds(formatDuration(out.Format))
	if !ok {
		duration, ok = parseSeconds(video.Duration)
	}
	if !ok {
		return nil, fmt.Errorf("%w: duration missing", ErrProbeFailed)
	}

	fps, ok := ParseFrameRate(video.RFrameRate)
	if !ok {
		fps, ok = ParseFrameRate(video.AvgFrameRate)
	}
	if !ok {
		fps = defaultFPS
	}

	frames := FrameCount(duration, fps)
	if n, err := strconv.ParseInt(strings.TrimSpace(video.NbFrames), 10, 64); err == nil && n > 0 {
		frames = n
	}

	return &MediaInfo{
		DurationSeconds: &duration,
		WidthPx:         video.Width,
		HeightPx:        video.Height,
		FPS:             &fps,
		FrameCount:      &frames,
	}, nil
}

func formatDuration(f *format) string {
	if f == nil {
		return ""
	}
	return f.Duration
}

func parseSeconds(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// ParseFrameRate parses a rational "num/den" (or a bare number). A zero
// denominator or non-positive result is reported as not ok.
func ParseFrameRate(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	numStr, denStr, rational := strings.Cut(raw, "/")
	num, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, false
	}
	den := 1.0
	if rational {
		den, err = strconv.ParseFloat(denStr, 64)
		if err != nil || den == 0 {
			return 0, false
		}
	}
	fps := num / den
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, false
	}
	return fps, true
}

// FrameCount is round(duration * fps).
func FrameCount(durationSeconds, fps float64) int64 {
	return int64(math.Round(durationSeconds * fps))
}
