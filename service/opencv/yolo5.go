package opencv

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/inference"
	"github.com/khaledhikmat/camwatch/service/lgr"
)

const (
	y5InputSize    = 640
	y5NMSThreshold = 0.45
)

var y5DetectionLogger = &lumberjack.Logger{
	Filename:   "detections.log",
	MaxSize:    10, // MB
	MaxBackups: 5,
	MaxAge:     7, // days
	Compress:   true,
}

type yolo5 struct {
	// gocv.Net is not safe for concurrent use
	mu     sync.Mutex
	net    gocv.Net
	labels []string
	params config.DetectorParameters
}

// NewYolo5 loads a YOLOv5 ONNX model and its class names.
func NewYolo5(params config.DetectorParameters) (inference.IService, error) {
	if _, err := os.Stat(params.ModelPath); err != nil {
		return nil, fmt.Errorf("yolo5 model %s: %w", params.ModelPath, err)
	}

	labels, err := loadLabels(params.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(params.ModelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("error reading yolo5 model %s", params.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting backend: %w", err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, fmt.Errorf("error setting target: %w", err)
	}

	lgr.Logger.Info("yolo5 detector loaded",
		slog.String("model", params.ModelPath),
		slog.Int("classes", len(labels)),
		slog.String("openCV", gocv.Version()),
	)

	return &yolo5{
		net:    net,
		labels: labels,
		params: params,
	}, nil
}

func (y *yolo5) Detect(ctx context.Context, frame model.Frame) (model.DetectionSet, error) {
	set := model.DetectionSet{FrameSeq: frame.Seq}
	if err := ctx.Err(); err != nil {
		return set, err
	}
	if frame.Empty() {
		return set, fmt.Errorf("frame %d is empty", frame.Seq)
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return set, err
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(y5InputSize, y5InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.mu.Lock()
	y.net.SetInput(blob, "")
	output := y.net.Forward("")
	y.mu.Unlock()
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return set, fmt.Errorf("unexpected DNN output dims: %v", dims)
	}

	reshaped := output.Reshape(1, dims[1])
	defer reshaped.Close()
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		return set, fmt.Errorf("reshape failed, output dims %v", dims)
	}

	scaleX := float32(frame.Width()) / y5InputSize
	scaleY := float32(frame.Height()) / y5InputSize

	var (
		candidates []model.Detection
		boxes      []image.Rectangle
		scores     []float32
	)
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, err := row.DataPtrFloat32()
		if err != nil || len(data) < 5 {
			row.Close()
			continue
		}

		det, ok := y.parseRow(data, scaleX, scaleY)
		row.Close()
		if !ok {
			continue
		}
		candidates = append(candidates, det)
		boxes = append(boxes, det.Rect())
		scores = append(scores, det.Score)
	}

	if len(candidates) == 0 {
		return set, nil
	}

	for _, idx := range gocv.NMSBoxes(boxes, scores, y.params.ObjectConfidenceThreshold, y5NMSThreshold) {
		set.Detections = append(set.Detections, candidates[idx])
	}

	if y.params.Logging {
		logDetections(frame.Seq, set.Detections)
	}
	return set, nil
}

// parseRow reads one YOLOv5 output row: cx, cy, w, h in input pixels,
// objectness, then one score per class.
func (y *yolo5) parseRow(data []float32, scaleX, scaleY float32) (model.Detection, bool) {
	objectConfidence := data[4]
	if objectConfidence < y.params.ObjectConfidenceThreshold {
		return model.Detection{}, false
	}

	classScores := data[5:]
	if len(classScores) != len(y.labels) {
		return model.Detection{}, false
	}

	classID := -1
	classConfidence := float32(0)
	for j, score := range classScores {
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}
	if classID == -1 {
		return model.Detection{}, false
	}

	w := data[2] * scaleX
	h := data[3] * scaleY
	return model.Detection{
		X:      int(data[0]*scaleX - w/2),
		Y:      int(data[1]*scaleY - h/2),
		Width:  int(w),
		Height: int(h),
		Label:  y.labels[classID],
		Score:  objectConfidence * classConfidence,
	}, true
}

func (y *yolo5) Close() error {
	y.mu.Lock()
	defer y.mu.Unlock()
	return y.net.Close()
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading labels %s: %w", path, err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n"), nil
}

func logDetections(seq uint64, detections []model.Detection) {
	if len(detections) == 0 {
		return
	}

	entry := map[string]interface{}{
		"time":       time.Now().Format(time.RFC3339),
		"frameSeq":   seq,
		"detections": detections,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		lgr.Logger.Error("error marshaling detections", lgr.Err(err))
		return
	}

	if _, err := y5DetectionLogger.Write(append(jsonData, '\n')); err != nil {
		lgr.Logger.Error("error writing to detection log file", lgr.Err(err))
	}
}
