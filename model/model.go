package model

import (
	"fmt"
	"runtime/debug"
	"time"
)

type CustomError struct {
	Processor  string                 `json:"processor"`
	Inner      error                  `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

func (e CustomError) Error() string {
	if e.Inner == nil {
		return fmt.Sprintf("%s: %s", e.Processor, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Processor, e.Message, e.Inner)
}

func (e CustomError) Unwrap() error {
	return e.Inner
}

func GenError(proc string, err error, misc map[string]interface{}, messagef string, args ...interface{}) CustomError {
	return CustomError{
		Processor:  proc,
		Inner:      err,
		Message:    fmt.Sprintf(messagef, args...),
		StackTrace: string(debug.Stack()),
		Misc:       misc,
	}
}

type Camera struct {
	Name      string `json:"name"`
	StreamURL string `json:"streamUrl"`
	BaseURL   string `json:"baseUrl"`
}

type DemuxerStats struct {
	Frames       int64 `json:"frames"`
	DecodeErrors int64 `json:"decodeErrors"`
	BytesRead    int64 `json:"bytesRead"`
	Connects     int64 `json:"connects"`
}

type SchedulerStats struct {
	Processed  int64 `json:"processed"`
	Detections int64 `json:"detections"`
	Failures   int64 `json:"failures"`
}

type PipelineStats struct {
	ID                      string         `json:"id"`
	Camera                  string         `json:"camera"`
	State                   string         `json:"state"`
	FPS                     float64        `json:"fps"`
	Rendered                int64          `json:"rendered"`
	Dropped                 uint64         `json:"dropped"`
	Reconnects              int64          `json:"reconnects"`
	ConnectFailures         int64          `json:"connectFailures"`
	ConsecutiveDecodeErrors int64          `json:"consecutiveDecodeErrors"`
	Demuxer                 DemuxerStats   `json:"demuxer"`
	Scheduler               SchedulerStats `json:"scheduler"`
	Uptime                  int64          `json:"uptime"`
	Timestamp               int64          `json:"timestamp"`
}

type CameraStats struct {
	Camera    string `json:"camera"`
	Reachable bool   `json:"reachable"`
	Latency   int64  `json:"latencyMs"`
	FrameSize int    `json:"frameSize,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// ErrorRecord is the persisted form of an error reported on the error stream.
type ErrorRecord struct {
	Timestamp  int64                  `json:"timestamp"`
	Processor  string                 `json:"processor"`
	Inner      string                 `json:"innerError"`
	Message    string                 `json:"message"`
	StackTrace string                 `json:"stackTrace"`
	Misc       map[string]interface{} `json:"misc"`
}

// NewErrorRecord flattens anything received on the error stream.
func NewErrorRecord(err interface{}) ErrorRecord {
	rec := ErrorRecord{
		Timestamp:  time.Now().Unix(),
		Processor:  "N/A",
		StackTrace: "N/A",
	}

	switch e := err.(type) {
	case CustomError:
		rec.Processor = e.Processor
		rec.Message = e.Message
		rec.StackTrace = e.StackTrace
		rec.Misc = e.Misc
		if e.Inner != nil {
			rec.Inner = e.Inner.Error()
		}
	case error:
		rec.Inner = e.Error()
		rec.Message = e.Error()
	default:
		rec.Message = fmt.Sprintf("%v", e)
	}
	return rec
}
