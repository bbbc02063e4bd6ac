// Package delivery streams stored media with single byte-range support.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/memohai/mediastore/internal/mediatype"
)

// DefaultCacheControl is sent when Content.CacheControl is empty.
const DefaultCacheControl = "private, max-age=3600"

// ErrRangeNotSatisfiable is returned for any Range header other than a
// satisfiable "bytes=<start>-[<end>]".
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// Range is an inclusive byte span.
type Range struct {
	Start int64
	End   int64
}

// Length is the number of bytes in the span.
func (r Range) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats the Content-Range value for a file of size total.
func (r Range) ContentRange(total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, total)
}

// ParseRange parses header against a file of size bytes. Only the single
// "bytes=<start>-[<end>]" form is accepted; end is clamped to size-1.
func ParseRange(header string, size int64) (Range, error) {
	byteRange, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(byteRange, ",") {
		return Range{}, ErrRangeNotSatisfiable
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(byteRange), "-")
	if !ok {
		return Range{}, ErrRangeNotSatisfiable
	}
	start, ok := parseOffset(startStr)
	if !ok || start >= size {
		return Range{}, ErrRangeNotSatisfiable
	}
	end := size - 1
	if strings.TrimSpace(endStr) != "" {
		e, ok := parseOffset(endStr)
		if !ok || e < start {
			return Range{}, ErrRangeNotSatisfiable
		}
		if e < end {
			end = e
		}
	}
	return Range{Start: start, End: end}, nil
}

// parseOffset accepts plain decimal digits only, so suffix and signed forms fail.
func parseOffset(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		// Too many digits for int64: saturate so an end clamps to EOF and a start is unsatisfiable.
		return math.MaxInt64, true
	}
	if err != nil {
		return 0, false
	}
	return v, true
}

// Content is an open file ready to be served. The caller owns ReadSeeker
// and closes it after Serve returns.
type Content struct {
	Name         string
	ModTime      time.Time
	Size         int64
	ReadSeeker   io.ReadSeeker
	CacheControl string
}

// Result describes what Serve wrote.
type Result struct {
	Status int
	Bytes  int64
}

// Serve writes c to w honouring a single Range request. Unsatisfiable ranges
// get a 416 with "Content-Range: bytes */size" and ErrRangeNotSatisfiable.
// HEAD requests receive headers only. The copy stops when the request
// context is cancelled.
func Serve(w http.ResponseWriter, r *http.Request, c Content) (Result, error) {
	h := w.Header()
	h.Set("Accept-Ranges", "bytes")
	h.Set("Content-Type", mediatype.ContentType(c.Name))
	cacheControl := c.CacheControl
	if cacheControl == "" {
		cacheControl = DefaultCacheControl
	}
	h.Set("Cache-Control", cacheControl)
	if !c.ModTime.IsZero() {
		h.Set("Last-Modified", c.ModTime.UTC().Format(http.TimeFormat))
	}

	status := http.StatusOK
	span := Range{Start: 0, End: c.Size - 1}
	if header := r.Header.Get("Range"); header != "" {
		rng, err := ParseRange(header, c.Size)
		if err != nil {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", c.Size))
			h.Del("Content-Type")
			h.Set("Content-Length", "0")
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return Result{Status: http.StatusRequestedRangeNotSatisfiable}, err
		}
		span = rng
		status = http.StatusPartialContent
		h.Set("Content-Range", span.ContentRange(c.Size))
	}

	length := span.Length()
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead || length <= 0 {
		return Result{Status: status}, nil
	}

	var src io.Reader
	if ra, ok := c.ReadSeeker.(io.ReaderAt); ok {
		src = io.NewSectionReader(ra, span.Start, length)
	} else {
		if _, err := c.ReadSeeker.Seek(span.Start, io.SeekStart); err != nil {
			return Result{Status: status}, fmt.Errorf("seek: %w", err)
		}
		src = io.LimitReader(c.ReadSeeker, length)
	}
	n, err := io.Copy(w, &ctxReader{ctx: r.Context(), r: src})
	if err != nil {
		return Result{Status: status, Bytes: n}, fmt.Errorf("stream %s: %w", c.Name, err)
	}
	return Result{Status: status, Bytes: n}, nil
}

// ctxReader aborts reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
