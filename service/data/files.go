package data

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/khaledhikmat/camwatch/model"
	"github.com/khaledhikmat/camwatch/service/config"
)

const (
	errorsEntity        = "errors"
	pipelineStatsEntity = "pipeline-stats"
	cameraStatsEntity   = "camera-stats"
)

// filesDBService keeps one JSON array file per entity under the input folder.
type filesDBService struct {
	CfgSvc config.IService

	mu sync.Mutex
}

func NewFilesDB(cfgsvc config.IService) (IService, error) {
	if err := os.MkdirAll(cfgsvc.GetInputFolder(), 0o755); err != nil {
		return nil, fmt.Errorf("creating input folder: %w", err)
	}
	return &filesDBService{
		CfgSvc: cfgsvc,
	}, nil
}

func (svc *filesDBService) NewError(err interface{}) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return newEntity(model.NewErrorRecord(err), errorsEntity, svc.CfgSvc)
}

func (svc *filesDBService) NewPipelineStats(stats model.PipelineStats) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}
	return newEntity(stats, pipelineStatsEntity, svc.CfgSvc)
}

func (svc *filesDBService) NewCameraStats(stats model.CameraStats) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if stats.Timestamp == 0 {
		stats.Timestamp = time.Now().Unix()
	}
	return newEntity(stats, cameraStatsEntity, svc.CfgSvc)
}

func (svc *filesDBService) RetrieveErrors(max int) ([]model.ErrorRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return retrieveRecent[model.ErrorRecord](errorsEntity, svc.CfgSvc, max)
}

func (svc *filesDBService) RetrievePipelineStats(max int) ([]model.PipelineStats, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return retrieveRecent[model.PipelineStats](pipelineStatsEntity, svc.CfgSvc, max)
}

func (svc *filesDBService) RetrieveCameraStats(max int) ([]model.CameraStats, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return retrieveRecent[model.CameraStats](cameraStatsEntity, svc.CfgSvc, max)
}

func (svc *filesDBService) Close() error {
	return nil
}

func entityPath(filename string, cfgsvc config.IService) string {
	return filepath.Join(cfgsvc.GetInputFolder(), filename+".json")
}

func newEntity[T any](entity T, filename string, cfgsvc config.IService) error {
	entities, err := retrieveEntities[T](filename, cfgsvc)
	if err != nil {
		return err
	}

	entities = append(entities, entity)

	data, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		return err
	}

	// Write to a sibling file and rename so readers never see half a file
	output := entityPath(filename, cfgsvc)
	tmp := output + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, output)
}

func retrieveEntities[T any](filename string, cfgsvc config.IService) ([]T, error) {
	entities := []T{}

	data, err := os.ReadFile(entityPath(filename, cfgsvc))
	if errors.Is(err, fs.ErrNotExist) {
		return entities, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, &entities); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return entities, nil
}

func retrieveRecent[T any](filename string, cfgsvc config.IService, max int) ([]T, error) {
	entities, err := retrieveEntities[T](filename, cfgsvc)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(entities) > max {
		entities = entities[len(entities)-max:]
	}
	return entities, nil
}
