package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

var (
	soiMarker = []byte{0xFF, 0xD8}
	eoiMarker = []byte{0xFF, 0xD9}

	errNotConnected  = errors.New("not connected")
	errFrameTooLarge = errors.New("no end-of-image marker within size limit")
)

const (
	defaultChunkSize     = 1024
	defaultMaxFrameBytes = 4 << 20
)

// Demuxer recovers JPEG images from an HTTP byte stream that carries them
// back to back, delimited only by their own SOI/EOI markers.
//
// Connect and NextFrame are called from the acquisition goroutine only. Close
// may be called from any goroutine to unblock a pending read.
type Demuxer struct {
	url           string
	client        *http.Client
	decoder       Decoder
	chunkSize     int
	maxFrameBytes int

	mu   sync.Mutex
	body io.ReadCloser

	buf     []byte
	chunk   []byte
	readErr error

	// scanFrom is where the EOI search resumes in buf; bytes before it were
	// already searched.
	scanFrom int

	seq atomic.Uint64

	frames       atomic.Int64
	decodeErrors atomic.Int64
	bytesRead    atomic.Int64
	connects     atomic.Int64
}

type DemuxerOption func(*Demuxer)

func WithHTTPClient(client *http.Client) DemuxerOption {
	return func(d *Demuxer) {
		d.client = client
	}
}

func WithChunkSize(n int) DemuxerOption {
	return func(d *Demuxer) {
		if n > 0 {
			d.chunkSize = n
		}
	}
}

func WithMaxFrameBytes(n int) DemuxerOption {
	return func(d *Demuxer) {
		if n > 0 {
			d.maxFrameBytes = n
		}
	}
}

func NewDemuxer(url string, decoder Decoder, opts ...DemuxerOption) *Demuxer {
	d := &Demuxer{
		url:           url,
		client:        http.DefaultClient,
		decoder:       decoder,
		chunkSize:     defaultChunkSize,
		maxFrameBytes: defaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.chunk = make([]byte, d.chunkSize)
	return d
}

// Connect opens the stream. The request is bound to ctx, so cancelling ctx
// also aborts any read in progress on the returned body.
func (d *Demuxer) Connect(ctx context.Context) error {
	_ = d.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return &ConnectError{URL: d.url, Err: err}
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := d.client.Do(req)
	if err != nil {
		return &ConnectError{URL: d.url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return &ConnectError{URL: d.url, Status: resp.StatusCode}
	}

	d.mu.Lock()
	d.body = resp.Body
	d.mu.Unlock()

	d.buf = d.buf[:0]
	d.scanFrom = 0
	d.readErr = nil
	d.connects.Add(1)

	lgr.Logger.Info(
		"demuxer connected",
		slog.String("url", d.url),
		slog.String("contentType", resp.Header.Get("Content-Type")),
	)
	return nil
}

// Close releases the current connection. It is safe to call concurrently with
// NextFrame; the blocked read returns and NextFrame reports StreamEndError.
func (d *Demuxer) Close() error {
	d.mu.Lock()
	body := d.body
	d.body = nil
	d.mu.Unlock()

	if body == nil {
		return nil
	}
	return body.Close()
}

// NextFrame returns the next decoded frame.
func (d *Demuxer) NextFrame() (model.Frame, error) {
	for {
		candidate, err := d.extract()
		if err != nil {
			d.decodeErrors.Add(1)
			return model.Frame{}, &DecodeError{Size: d.maxFrameBytes, Err: err}
		}

		if candidate != nil {
			img, err := d.decoder.Decode(candidate)
			if err != nil {
				d.decodeErrors.Add(1)
				return model.Frame{}, &DecodeError{Size: len(candidate), Err: err}
			}
			if img == nil || img.Bounds().Empty() {
				d.decodeErrors.Add(1)
				return model.Frame{}, &DecodeError{Size: len(candidate), Err: fmt.Errorf("empty image")}
			}

			d.frames.Add(1)
			return model.NewFrame(d.seq.Add(1), img), nil
		}

		if d.readErr != nil {
			return model.Frame{}, &StreamEndError{Err: d.readErr}
		}

		d.mu.Lock()
		body := d.body
		d.mu.Unlock()

		if body == nil {
			return model.Frame{}, &StreamEndError{Err: errNotConnected}
		}

		n, err := body.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
			d.bytesRead.Add(int64(n))
		}
		if err != nil {
			d.readErr = err
		}
	}
}

// extract removes the first complete SOI..EOI range from the accumulator and
// returns it. Everything up to and including the EOI is consumed whether or
// not the candidate later decodes, so no byte is scanned twice after a hit.
func (d *Demuxer) extract() ([]byte, error) {
	start := bytes.Index(d.buf, soiMarker)
	if start < 0 {
		d.scanFrom = 0
		// Keep a trailing 0xFF: it may be the first half of a marker.
		if n := len(d.buf); n > 0 {
			last := d.buf[n-1]
			d.buf = d.buf[:0]
			if last == 0xFF {
				d.buf = append(d.buf, last)
			}
		}
		return nil, nil
	}

	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
		d.scanFrom = 0
	}

	from := max(d.scanFrom, len(soiMarker))
	end := bytes.Index(d.buf[from:], eoiMarker)
	if end < 0 {
		if len(d.buf) > d.maxFrameBytes {
			// Skip this SOI and resume scanning after it.
			d.buf = append(d.buf[:0], d.buf[len(soiMarker):]...)
			d.scanFrom = 0
			return nil, errFrameTooLarge
		}
		// The last byte may be the 0xFF of a split EOI.
		d.scanFrom = max(len(d.buf)-1, len(soiMarker))
		return nil, nil
	}

	d.scanFrom = 0
	end += from + len(eoiMarker)
	candidate := make([]byte, end)
	copy(candidate, d.buf[:end])
	d.buf = append(d.buf[:0], d.buf[end:]...)

	return candidate, nil
}

func (d *Demuxer) Stats() model.DemuxerStats {
	return model.DemuxerStats{
		Frames:       d.frames.Load(),
		DecodeErrors: d.decodeErrors.Load(),
		BytesRead:    d.bytesRead.Load(),
		Connects:     d.connects.Load(),
	}
}
