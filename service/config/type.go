package config

import "time"

const (
	DecoderJPEG   = "jpeg"
	DecoderOpenCV = "opencv"

	DetectorNone  = "none"
	DetectorFake  = "fake"
	DetectorYolo5 = "yolo5"

	SinkMJPEG     = "mjpeg"
	SinkWebsocket = "websocket"
	SinkWindow    = "window"
	SinkNone      = "none"

	DataStoreFiles  = "files"
	DataStoreSqlite = "sqlite"
)

type DetectorParameters struct {
	ModelPath                 string  `yaml:"model_path"`
	LabelsPath                string  `yaml:"labels_path"`
	ObjectConfidenceThreshold float32 `yaml:"object_confidence"`
	Logging                   bool    `yaml:"logging"`
}

type IService interface {
	GetCameraName() string
	GetStreamURL() string
	GetDetectionCadence() int
	GetScoreThreshold() float32
	GetReconnectBackoff() time.Duration
	GetModeMaxShutdownTime() time.Duration
	GetMaxConsecutiveDecodeErrors() int
	GetReadChunkSize() int
	GetMaxFrameBytes() int
	GetFirstFrameTimeout() time.Duration
	GetDecoder() string
	GetDetector() string
	GetDetectorParameters() DetectorParameters
	GetSinks() []string
	GetHTTPAddr() string
	GetDataStore() string
	GetInputFolder() string
	GetSqlitePath() string
	GetStatsPeriod() time.Duration
	GetCameraBaseURL() string
	GetCameraFrameSize() string
	GetCameraMonitorPeriod() time.Duration
	Validate() error
}
