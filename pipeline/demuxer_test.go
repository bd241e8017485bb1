package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// countingDecoder records every candidate handed to it.
type countingDecoder struct {
	inner      Decoder
	candidates [][]byte
}

func (d *countingDecoder) Decode(data []byte) (*image.RGBA, error) {
	d.candidates = append(d.candidates, append([]byte(nil), data...))
	return d.inner.Decode(data)
}

func serveBytes(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDemuxerEmitsEveryFrameThroughGarbage(t *testing.T) {
	widths := []int{16, 24, 32, 40}

	var stream bytes.Buffer
	stream.WriteString("HTTP garbage before the first image")
	for i, w := range widths {
		stream.Write(encodeTestJPEG(t, w, 8))
		if i%2 == 0 {
			stream.WriteString("--boundary\r\nContent-Type: image/jpeg\r\n\r\n")
		}
	}
	stream.WriteString("trailing bytes")

	for _, chunk := range []int{1, 7, 1024, 64 << 10} {
		srv := serveBytes(t, stream.Bytes())
		d := NewDemuxer(srv.URL, NewJPEGDecoder(), WithChunkSize(chunk))

		if err := d.Connect(context.Background()); err != nil {
			t.Fatalf("chunk %d: connect: %v", chunk, err)
		}

		for i, w := range widths {
			frame, err := d.NextFrame()
			if err != nil {
				t.Fatalf("chunk %d: frame %d: %v", chunk, i, err)
			}
			if frame.Seq != uint64(i+1) {
				t.Errorf("chunk %d: seq = %d, expected %d", chunk, frame.Seq, i+1)
			}
			if frame.Width() != w {
				t.Errorf("chunk %d: frame %d width = %d, expected %d", chunk, i, frame.Width(), w)
			}
		}

		_, err := d.NextFrame()
		var endErr *StreamEndError
		if !errors.As(err, &endErr) || !errors.Is(err, io.EOF) {
			t.Fatalf("chunk %d: expected StreamEndError(EOF), got %v", chunk, err)
		}

		stats := d.Stats()
		if stats.Frames != int64(len(widths)) || stats.DecodeErrors != 0 || stats.BytesRead != int64(stream.Len()) {
			t.Errorf("chunk %d: stats = %+v", chunk, stats)
		}
		d.Close()
	}
}

func TestDemuxerNeverRescansCorruptRange(t *testing.T) {
	bad := []byte{0xFF, 0xD8, 'n', 'o', 't', ' ', 'a', ' ', 'j', 'p', 'e', 'g', 0xFF, 0xD9}

	var stream bytes.Buffer
	stream.Write(encodeTestJPEG(t, 8, 8))
	stream.Write(bad)
	stream.Write(encodeTestJPEG(t, 16, 8))

	srv := serveBytes(t, stream.Bytes())
	dec := &countingDecoder{inner: NewJPEGDecoder()}
	d := NewDemuxer(srv.URL, dec, WithChunkSize(5))
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if _, err := d.NextFrame(); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	_, err := d.NextFrame()
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}
	if decodeErr.Size != len(bad) {
		t.Errorf("decode error size = %d, expected %d", decodeErr.Size, len(bad))
	}

	frame, err := d.NextFrame()
	if err != nil {
		t.Fatalf("frame after corrupt range: %v", err)
	}
	if frame.Width() != 16 || frame.Seq != 2 {
		t.Errorf("frame = seq %d width %d, expected seq 2 width 16", frame.Seq, frame.Width())
	}

	if len(dec.candidates) != 3 {
		t.Fatalf("decoder called %d times, expected 3", len(dec.candidates))
	}
	seen := 0
	for _, c := range dec.candidates {
		if bytes.Equal(c, bad) {
			seen++
		}
	}
	if seen != 1 {
		t.Errorf("corrupt range decoded %d times, expected once", seen)
	}
}

func TestDemuxerSkipsOversizedCandidate(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0xFF, 0xD8})
	stream.Write(bytes.Repeat([]byte{'x'}, 5000))
	stream.Write(encodeTestJPEG(t, 8, 8))

	srv := serveBytes(t, stream.Bytes())
	d := NewDemuxer(srv.URL, NewJPEGDecoder(), WithMaxFrameBytes(2048))
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err := d.NextFrame()
	if !errors.Is(err, errFrameTooLarge) {
		t.Fatalf("expected oversized candidate error, got %v", err)
	}

	frame, err := d.NextFrame()
	if err != nil {
		t.Fatalf("next frame: %v", err)
	}
	if frame.Width() != 8 {
		t.Errorf("width = %d", frame.Width())
	}
}

func TestDemuxerKeepsSplitMarker(t *testing.T) {
	d := NewDemuxer("http://unused", NewJPEGDecoder())

	d.buf = append(d.buf, 'a', 'b', 0xFF)
	candidate, err := d.extract()
	if candidate != nil || err != nil {
		t.Fatalf("extract = %v, %v", candidate, err)
	}
	if !bytes.Equal(d.buf, []byte{0xFF}) {
		t.Fatalf("buffer = %x, expected ff", d.buf)
	}

	d.buf = append(d.buf, 0xD8, 1, 2, 0xFF, 0xD9, 'z')
	candidate, err = d.extract()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(candidate, []byte{0xFF, 0xD8, 1, 2, 0xFF, 0xD9}) {
		t.Errorf("candidate = %x", candidate)
	}
	if !bytes.Equal(d.buf, []byte{'z'}) {
		t.Errorf("remaining = %q", d.buf)
	}
}

func TestDemuxerResumesEOIScan(t *testing.T) {
	d := NewDemuxer("http://unused", NewJPEGDecoder())

	d.buf = append(d.buf, 0xFF, 0xD8)
	d.buf = append(d.buf, bytes.Repeat([]byte{0x11}, 100)...)
	if candidate, err := d.extract(); candidate != nil || err != nil {
		t.Fatalf("extract = %v, %v", candidate, err)
	}
	if d.scanFrom != len(d.buf)-1 {
		t.Fatalf("scanFrom = %d, expected %d", d.scanFrom, len(d.buf)-1)
	}

	// EOI split across two reads.
	d.buf = append(d.buf, 0x22, 0xFF)
	if candidate, err := d.extract(); candidate != nil || err != nil {
		t.Fatalf("extract = %v, %v", candidate, err)
	}
	if d.scanFrom != len(d.buf)-1 {
		t.Fatalf("scanFrom = %d, expected %d", d.scanFrom, len(d.buf)-1)
	}

	d.buf = append(d.buf, 0xD9, 0xFF, 0xD8, 0x33, 0xFF, 0xD9)
	candidate, err := d.extract()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(candidate) != 106 || !bytes.HasSuffix(candidate, eoiMarker) {
		t.Fatalf("candidate length %d, suffix %x", len(candidate), candidate[len(candidate)-2:])
	}
	if d.scanFrom != 0 {
		t.Errorf("scanFrom = %d after a hit, expected 0", d.scanFrom)
	}

	// The next candidate is found from the start of the remaining bytes.
	candidate, err = d.extract()
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !bytes.Equal(candidate, []byte{0xFF, 0xD8, 0x33, 0xFF, 0xD9}) {
		t.Errorf("second candidate = %x", candidate)
	}
}

func TestDemuxerConnectErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDemuxer(srv.URL, NewJPEGDecoder())
	err := d.Connect(context.Background())
	var connectErr *ConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("expected ConnectError, got %v", err)
	}
	if connectErr.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d", connectErr.Status)
	}

	closed := httptest.NewServer(http.NotFoundHandler())
	url := closed.URL
	closed.Close()

	err = NewDemuxer(url, NewJPEGDecoder()).Connect(context.Background())
	if !errors.As(err, &connectErr) || connectErr.Err == nil {
		t.Fatalf("expected transport ConnectError, got %v", err)
	}

	_, err = NewDemuxer(url, NewJPEGDecoder()).NextFrame()
	if !errors.Is(err, errNotConnected) {
		t.Errorf("NextFrame before Connect = %v", err)
	}
}

func TestDemuxerCloseUnblocksRead(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	d := NewDemuxer(srv.URL, NewJPEGDecoder())
	if err := d.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := d.NextFrame()
		result <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-result:
		var endErr *StreamEndError
		if !errors.As(err, &endErr) {
			t.Fatalf("expected StreamEndError, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NextFrame still blocked after Close")
	}
}
