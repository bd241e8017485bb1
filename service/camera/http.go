package camera

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

const requestTimeout = 3 * time.Second

type httpCamera struct {
	camera model.Camera
	client *http.Client
}

// NewHTTP talks to the camera's control server at baseURL. An empty baseURL
// means the stream host's default port, since the camera serves the stream
// on a separate port.
func NewHTTP(name, streamURL, baseURL string, client *http.Client) (IService, error) {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		var err error
		if base, err = BaseURL(streamURL); err != nil {
			return nil, err
		}
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &httpCamera{
		camera: model.Camera{
			Name:      name,
			StreamURL: streamURL,
			BaseURL:   base,
		},
		client: client,
	}, nil
}

// BaseURL strips port, path and query from streamURL.
func BaseURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("stream url %q has no scheme or host", streamURL)
	}
	host := u.Hostname()
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return u.Scheme + "://" + host, nil
}

func (c *httpCamera) Camera() model.Camera {
	return c.camera
}

// Probe reports whether the control server answers 200 on its root.
func (c *httpCamera) Probe(ctx context.Context) model.CameraStats {
	stats := model.CameraStats{
		Camera:    c.camera.Name,
		Timestamp: time.Now().Unix(),
	}

	start := time.Now()
	resp, err := c.get(ctx, "/")
	stats.Latency = time.Since(start).Milliseconds()
	if err != nil {
		stats.Error = err.Error()
		return stats
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		stats.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return stats
	}

	stats.Reachable = true
	return stats
}

// Status returns the camera's sensor settings as reported by /status.
func (c *httpCamera) Status(ctx context.Context) (map[string]interface{}, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	status := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return status, nil
}

func (c *httpCamera) SetFrameSize(ctx context.Context, preset string) error {
	val, ok := FrameSizes[strings.ToUpper(preset)]
	if !ok {
		return fmt.Errorf("unknown frame size preset %q", preset)
	}

	resp, err := c.get(ctx, "/control?var=framesize&val="+strconv.Itoa(val))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("control endpoint returned %d", resp.StatusCode)
	}

	lgr.Logger.Info(
		"camera frame size set",
		slog.String("camera", c.camera.Name),
		slog.String("preset", strings.ToUpper(preset)),
		slog.Int("val", val),
	)
	return nil
}

func (c *httpCamera) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.camera.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
