package camera

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/khaledhikmat/camwatch/service/lgr"
)

func TestMain(m *testing.M) {
	lgr.SetOutput(io.Discard, slog.LevelError)
	os.Exit(m.Run())
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://192.168.8.160:81/stream", "http://192.168.8.160", false},
		{"https://cam.local/stream?x=1", "https://cam.local", false},
		{"http://[fe80::1]:81/stream", "http://[fe80::1]", false},
		{"/stream", "", true},
		{"http://[::1", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := BaseURL(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("BaseURL = %q, expected %q", got, tc.want)
			}
		})
	}
}

func newTestCamera(t *testing.T, srv *httptest.Server) IService {
	t.Helper()

	c, err := NewHTTP("test", srv.URL+"/stream", srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	return c
}

func TestNewHTTPDerivesBaseURL(t *testing.T) {
	c, err := NewHTTP("porch", "http://192.168.8.160:81/stream", "", nil)
	if err != nil {
		t.Fatalf("NewHTTP: %v", err)
	}
	if got := c.Camera().BaseURL; got != "http://192.168.8.160" {
		t.Errorf("base url = %q", got)
	}
	if _, err := NewHTTP("porch", "not a url", "", nil); err == nil {
		t.Error("expected error for unusable stream url")
	}
}

func TestSetFrameSize(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/control" {
			http.NotFound(w, r)
			return
		}
		gotQuery.Store(r.URL.RawQuery)
	}))
	defer srv.Close()

	c := newTestCamera(t, srv)

	tests := []struct {
		preset string
		query  string
	}{
		{"QVGA", "var=framesize&val=8"},
		{"vga", "var=framesize&val=10"},
		{"SVGA", "var=framesize&val=11"},
		{"XGA", "var=framesize&val=12"},
		{"HD", "var=framesize&val=13"},
		{"SXGA", "var=framesize&val=14"},
		{"UXGA", "var=framesize&val=15"},
	}
	for _, tc := range tests {
		if err := c.SetFrameSize(context.Background(), tc.preset); err != nil {
			t.Fatalf("%s: %v", tc.preset, err)
		}
		if got, _ := gotQuery.Load().(string); got != tc.query {
			t.Errorf("%s: query = %q, expected %q", tc.preset, got, tc.query)
		}
	}

	if err := c.SetFrameSize(context.Background(), "4K"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestCamera(t, srv)

	stats := c.Probe(context.Background())
	if !stats.Reachable || stats.Error != "" {
		t.Errorf("healthy probe = %+v", stats)
	}
	if stats.Camera != "test" {
		t.Errorf("camera = %q", stats.Camera)
	}

	healthy.Store(false)
	stats = c.Probe(context.Background())
	if stats.Reachable || stats.Error == "" {
		t.Errorf("unhealthy probe = %+v", stats)
	}
}

func TestProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestCamera(t, srv)
	srv.Close()

	stats := c.Probe(context.Background())
	if stats.Reachable || stats.Error == "" {
		t.Errorf("probe of closed server = %+v", stats)
	}
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"framesize":10,"quality":12}`)
	}))
	defer srv.Close()

	status, err := newTestCamera(t, srv).Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status["framesize"] != float64(10) {
		t.Errorf("framesize = %v", status["framesize"])
	}
}
