package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// NewEnv reads settings from the environment, falling back to Defaults for
// anything unset or unparsable.
func NewEnv() IService {
	d := Defaults()

	return New(Settings{
		CameraName:              getEnv("CAMERA_NAME", d.CameraName),
		StreamURL:               getEnv("STREAM_URL", d.StreamURL),
		DetectionCadence:        getEnvAsInt("DETECTION_CADENCE", d.DetectionCadence),
		ScoreThreshold:          getEnvAsFloat32("SCORE_THRESHOLD", d.ScoreThreshold),
		ReconnectBackoff:        getEnvAsDuration("RECONNECT_BACKOFF", d.ReconnectBackoff),
		ShutdownTimeout:         getEnvAsDuration("SHUTDOWN_TIMEOUT", d.ShutdownTimeout),
		MaxConsecutiveDecodeErr: getEnvAsInt("MAX_DECODE_ERRORS", d.MaxConsecutiveDecodeErr),
		ReadChunkSize:           getEnvAsInt("READ_CHUNK_SIZE", d.ReadChunkSize),
		MaxFrameBytes:           getEnvAsInt("MAX_FRAME_BYTES", d.MaxFrameBytes),
		FirstFrameTimeout:       getEnvAsDuration("FIRST_FRAME_TIMEOUT", d.FirstFrameTimeout),
		Decoder:                 strings.ToLower(getEnv("DECODER", d.Decoder)),
		Detector:                strings.ToLower(getEnv("DETECTOR", d.Detector)),
		DetectorParameters: DetectorParameters{
			ModelPath:                 getEnv("MODEL_PATH", d.DetectorParameters.ModelPath),
			LabelsPath:                getEnv("LABELS_PATH", d.DetectorParameters.LabelsPath),
			ObjectConfidenceThreshold: getEnvAsFloat32("OBJECT_CONFIDENCE", d.DetectorParameters.ObjectConfidenceThreshold),
			Logging:                   getEnvAsBool("DETECTION_LOGGING", d.DetectorParameters.Logging),
		},
		Sinks:               getEnvAsList("SINKS", d.Sinks),
		HTTPAddr:            getEnv("HTTP_ADDR", d.HTTPAddr),
		DataStore:           strings.ToLower(getEnv("DATA_STORE", d.DataStore)),
		InputFolder:         getEnv("INPUT_FOLDER", d.InputFolder),
		SqlitePath:          getEnv("SQLITE_PATH", d.SqlitePath),
		StatsPeriod:         getEnvAsDuration("STATS_PERIOD", d.StatsPeriod),
		CameraBaseURL:       getEnv("CAMERA_BASE_URL", d.CameraBaseURL),
		CameraFrameSize:     strings.ToUpper(getEnv("CAMERA_FRAME_SIZE", d.CameraFrameSize)),
		CameraMonitorPeriod: getEnvAsDuration("CAMERA_MONITOR_PERIOD", d.CameraMonitorPeriod),
	})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(f)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// Durations accept Go syntax ("1500ms") or plain seconds ("2").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
