package config

import (
	"net/url"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// Settings holds every configurable value. The pipeline reads it once at
// startup; changing a value requires a restart.
type Settings struct {
	CameraName              string             `yaml:"camera_name"`
	StreamURL               string             `yaml:"stream_url"`
	DetectionCadence        int                `yaml:"detection_cadence"`
	ScoreThreshold          float32            `yaml:"score_threshold"`
	ReconnectBackoff        time.Duration      `yaml:"reconnect_backoff"`
	ShutdownTimeout         time.Duration      `yaml:"shutdown_timeout"`
	MaxConsecutiveDecodeErr int                `yaml:"max_decode_errors"`
	ReadChunkSize           int                `yaml:"read_chunk_size"`
	MaxFrameBytes           int                `yaml:"max_frame_bytes"`
	FirstFrameTimeout       time.Duration      `yaml:"first_frame_timeout"`
	Decoder                 string             `yaml:"decoder"`
	Detector                string             `yaml:"detector"`
	DetectorParameters      DetectorParameters `yaml:"detector_parameters"`
	Sinks                   []string           `yaml:"sinks"`
	HTTPAddr                string             `yaml:"http_addr"`
	DataStore               string             `yaml:"data_store"`
	InputFolder             string             `yaml:"input_folder"`
	SqlitePath              string             `yaml:"sqlite_path"`
	StatsPeriod             time.Duration      `yaml:"stats_period"`
	CameraBaseURL           string             `yaml:"camera_base_url"`
	CameraFrameSize         string             `yaml:"camera_frame_size"`
	CameraMonitorPeriod     time.Duration      `yaml:"camera_monitor_period"`
}

func Defaults() Settings {
	return Settings{
		CameraName:              "esp32-cam",
		StreamURL:               "http://192.168.8.160:81/stream",
		DetectionCadence:        2,
		ScoreThreshold:          0.5,
		ReconnectBackoff:        2 * time.Second,
		ShutdownTimeout:         5 * time.Second,
		MaxConsecutiveDecodeErr: 10,
		ReadChunkSize:           1024,
		MaxFrameBytes:           4 << 20,
		FirstFrameTimeout:       10 * time.Second,
		Decoder:                 DecoderJPEG,
		Detector:                DetectorFake,
		DetectorParameters: DetectorParameters{
			ModelPath:                 "./yolo5/yolov5s.onnx",
			LabelsPath:                "./yolo5/coco.names",
			ObjectConfidenceThreshold: 0.25,
			Logging:                   false,
		},
		Sinks:               []string{SinkMJPEG},
		HTTPAddr:            ":8080",
		DataStore:           DataStoreFiles,
		InputFolder:         "./settings",
		SqlitePath:          "./settings/camwatch.db",
		StatsPeriod:         30 * time.Second,
		CameraBaseURL:       "",
		CameraFrameSize:     "",
		CameraMonitorPeriod: 30 * time.Second,
	}
}

type settingsService struct {
	s Settings
}

func New(s Settings) IService {
	return &settingsService{s: s}
}

// NewHardCoded returns the built-in defaults.
func NewHardCoded() IService {
	return New(Defaults())
}

func (svc *settingsService) GetCameraName() string {
	return svc.s.CameraName
}

func (svc *settingsService) GetStreamURL() string {
	return svc.s.StreamURL
}

func (svc *settingsService) GetDetectionCadence() int {
	return svc.s.DetectionCadence
}

func (svc *settingsService) GetScoreThreshold() float32 {
	return svc.s.ScoreThreshold
}

func (svc *settingsService) GetReconnectBackoff() time.Duration {
	return svc.s.ReconnectBackoff
}

func (svc *settingsService) GetModeMaxShutdownTime() time.Duration {
	return svc.s.ShutdownTimeout
}

func (svc *settingsService) GetMaxConsecutiveDecodeErrors() int {
	return svc.s.MaxConsecutiveDecodeErr
}

func (svc *settingsService) GetReadChunkSize() int {
	return svc.s.ReadChunkSize
}

func (svc *settingsService) GetMaxFrameBytes() int {
	return svc.s.MaxFrameBytes
}

func (svc *settingsService) GetFirstFrameTimeout() time.Duration {
	return svc.s.FirstFrameTimeout
}

func (svc *settingsService) GetDecoder() string {
	return svc.s.Decoder
}

func (svc *settingsService) GetDetector() string {
	return svc.s.Detector
}

func (svc *settingsService) GetDetectorParameters() DetectorParameters {
	return svc.s.DetectorParameters
}

func (svc *settingsService) GetSinks() []string {
	return append([]string(nil), svc.s.Sinks...)
}

func (svc *settingsService) GetHTTPAddr() string {
	return svc.s.HTTPAddr
}

func (svc *settingsService) GetDataStore() string {
	return svc.s.DataStore
}

func (svc *settingsService) GetInputFolder() string {
	return svc.s.InputFolder
}

func (svc *settingsService) GetSqlitePath() string {
	return svc.s.SqlitePath
}

func (svc *settingsService) GetStatsPeriod() time.Duration {
	return svc.s.StatsPeriod
}

// GetCameraBaseURL is empty unless the control server is not on the stream
// host's default port.
func (svc *settingsService) GetCameraBaseURL() string {
	return svc.s.CameraBaseURL
}

func (svc *settingsService) GetCameraFrameSize() string {
	return svc.s.CameraFrameSize
}

func (svc *settingsService) GetCameraMonitorPeriod() time.Duration {
	return svc.s.CameraMonitorPeriod
}

// Validate rejects values the pipeline can never run with.
func (svc *settingsService) Validate() error {
	s := svc.s

	u, err := url.Parse(s.StreamURL)
	if err != nil {
		return xerrors.Errorf("invalid stream url %q: %w", s.StreamURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return xerrors.Errorf("invalid stream url %q: scheme must be http or https", s.StreamURL)
	}
	if u.Host == "" {
		return xerrors.Errorf("invalid stream url %q: missing host", s.StreamURL)
	}

	if s.DetectionCadence < 1 {
		return xerrors.Errorf("detection cadence must be >= 1, got %d", s.DetectionCadence)
	}
	if s.ScoreThreshold < 0 || s.ScoreThreshold > 1 {
		return xerrors.Errorf("score threshold must be in [0,1], got %v", s.ScoreThreshold)
	}
	if s.ReconnectBackoff <= 0 {
		return xerrors.Errorf("reconnect backoff must be positive, got %s", s.ReconnectBackoff)
	}
	if s.ShutdownTimeout <= 0 {
		return xerrors.Errorf("shutdown timeout must be positive, got %s", s.ShutdownTimeout)
	}
	if s.ReadChunkSize <= 0 || s.MaxFrameBytes <= 0 {
		return xerrors.Errorf("read chunk size and max frame bytes must be positive")
	}

	switch s.Decoder {
	case DecoderJPEG, DecoderOpenCV:
	default:
		return xerrors.Errorf("unknown decoder %q", s.Decoder)
	}

	switch s.Detector {
	case DetectorNone, DetectorFake, DetectorYolo5:
	default:
		return xerrors.Errorf("unknown detector %q", s.Detector)
	}

	for _, sink := range s.Sinks {
		switch strings.ToLower(sink) {
		case SinkMJPEG, SinkWebsocket, SinkWindow, SinkNone:
		default:
			return xerrors.Errorf("unknown sink %q", sink)
		}
	}

	switch s.DataStore {
	case DataStoreFiles, DataStoreSqlite:
	default:
		return xerrors.Errorf("unknown data store %q", s.DataStore)
	}

	return nil
}
