package mode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/pipeline"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/data"
	"github.com/khaledhikmat/camwatch/service/display"
	"github.com/khaledhikmat/camwatch/service/inference"
	"github.com/khaledhikmat/camwatch/service/lgr"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

func TestMain(m *testing.M) {
	lgr.SetOutput(io.Discard, slog.LevelError)
	os.Exit(m.Run())
}

func testServices(t *testing.T, streamURL string) pipeline.ServicesFactory {
	t.Helper()

	s := config.Defaults()
	s.CameraName = "test-cam"
	s.StreamURL = streamURL
	s.ReconnectBackoff = 50 * time.Millisecond
	s.ShutdownTimeout = 2 * time.Second
	s.FirstFrameTimeout = time.Second
	s.StatsPeriod = 50 * time.Millisecond
	s.CameraMonitorPeriod = 20 * time.Millisecond
	s.Detector = config.DetectorNone
	s.InputFolder = t.TempDir()
	cfg := config.New(s)

	dataSvc, err := data.NewFilesDB(cfg)
	if err != nil {
		t.Fatalf("files db: %v", err)
	}
	t.Cleanup(func() { _ = dataSvc.Close() })

	return pipeline.ServicesFactory{
		CfgSvc:       cfg,
		DataSvc:      dataSvc,
		InferenceSvc: inference.NewNone(),
		DisplaySvc:   display.NewNone(),
		Metrics:      metrics.New(),
	}
}

func runMode(ctx context.Context, proc Processor, svcs pipeline.ServicesFactory) chan error {
	done := make(chan error, 1)
	go func() {
		done <- proc(ctx, svcs)
	}()
	return done
}

func waitResult(t *testing.T, done chan error, within time.Duration) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(within):
		t.Fatalf("mode processor did not exit within %s", within)
		return nil
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPipelinePersistsFailuresAndStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	svcs := testServices(t, srv.URL+"/stream")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := runMode(ctx, Pipeline, svcs)

	waitFor(t, 3*time.Second, "a persisted connect failure", func() bool {
		records, err := svcs.DataSvc.RetrieveErrors(10)
		return err == nil && len(records) > 0
	})

	cancel()
	if err := waitResult(t, done, 5*time.Second); err != nil {
		t.Fatalf("pipeline mode: %v", err)
	}

	records, err := svcs.DataSvc.RetrieveErrors(10)
	if err != nil {
		t.Fatalf("retrieve errors: %v", err)
	}
	if records[0].Processor != "pipeline_controller" {
		t.Errorf("processor %q, expected pipeline_controller", records[0].Processor)
	}

	stats, err := svcs.DataSvc.RetrievePipelineStats(100)
	if err != nil {
		t.Fatalf("retrieve stats: %v", err)
	}
	if len(stats) == 0 {
		t.Fatal("no pipeline stats persisted")
	}
	last := stats[len(stats)-1]
	if last.State != pipeline.StateStopped.String() {
		t.Errorf("final state %q, expected Stopped", last.State)
	}
	if last.ConnectFailures == 0 {
		t.Errorf("final stats show no connect failures: %+v", last)
	}
}

type closedSink struct{}

func (closedSink) Show(_ model.Frame) error { return display.ErrClosed }
func (closedSink) Close() error             { return nil }

func TestPipelineEndsWhenDisplayCloses(t *testing.T) {
	frame := encodeTestJPEG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		flusher := w.(http.Flusher)
		for r.Context().Err() == nil {
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()
			time.Sleep(10 * time.Millisecond)
		}
	}))
	defer srv.Close()

	svcs := testServices(t, srv.URL+"/stream")
	svcs.DisplaySvc = closedSink{}

	done := runMode(context.Background(), Pipeline, svcs)
	if err := waitResult(t, done, 5*time.Second); err != nil {
		t.Fatalf("pipeline mode: %v", err)
	}
}

func TestEndpoints(t *testing.T) {
	svcs := testServices(t, "http://127.0.0.1:1/stream")
	ctrl := pipeline.NewController(svcs, nil, nil)

	for i := 0; i < 3; i++ {
		if err := svcs.DataSvc.NewPipelineStats(model.PipelineStats{ID: ctrl.ID(), Rendered: int64(i)}); err != nil {
			t.Fatalf("seed stats: %v", err)
		}
	}
	if err := svcs.DataSvc.NewError(errors.New("boom")); err != nil {
		t.Fatalf("seed error: %v", err)
	}

	mux := http.NewServeMux()
	registerEndpoints(mux, svcs, ctrl)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("healthz before streaming", func(t *testing.T) {
		rec := get("/healthz")
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status %d, expected 503", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Connecting") {
			t.Errorf("body %q does not name the state", rec.Body.String())
		}
	})

	t.Run("stats", func(t *testing.T) {
		rec := get("/stats")
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		var stats model.PipelineStats
		if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if stats.ID != ctrl.ID() || stats.Camera != "test-cam" {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("history honours max", func(t *testing.T) {
		rec := get("/history?max=2")
		var stats []model.PipelineStats
		if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(stats) != 2 || stats[1].Rendered != 2 {
			t.Errorf("history = %+v, expected the two most recent", stats)
		}
	})

	t.Run("errors", func(t *testing.T) {
		rec := get("/errors")
		var records []model.ErrorRecord
		if err := json.NewDecoder(rec.Body).Decode(&records); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(records) != 1 || records[0].Message != "boom" {
			t.Errorf("errors = %+v", records)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := get("/metrics")
		if rec.Code != http.StatusOK {
			t.Fatalf("status %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "camwatch_frames_decoded_total") {
			t.Error("metrics output is missing the decoded frames counter")
		}
	})
}

func TestMaxParam(t *testing.T) {
	tests := map[string]int{
		"/history":        defaultHistory,
		"/history?max=5":  5,
		"/history?max=0":  defaultHistory,
		"/history?max=-3": defaultHistory,
		"/history?max=xx": defaultHistory,
	}
	for target, want := range tests {
		if got := maxParam(httptest.NewRequest(http.MethodGet, target, nil)); got != want {
			t.Errorf("%s: %d, expected %d", target, got, want)
		}
	}
}

func encodeTestJPEG(t *testing.T) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{R: 40, G: 120, B: 200, A: 255}), image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}
