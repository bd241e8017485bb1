package pipeline

import (
	"net/http"

	"github.com/khaledhikmat/camwatch/service/camera"
	"github.com/khaledhikmat/camwatch/service/config"
	"github.com/khaledhikmat/camwatch/service/data"
	"github.com/khaledhikmat/camwatch/service/display"
	"github.com/khaledhikmat/camwatch/service/inference"
	"github.com/khaledhikmat/camwatch/service/metrics"
)

// ServicesFactory carries the collaborators a mode processor hands to the
// pipeline. CameraSvc, Metrics, Decoder, HTTPClient and Mux are optional.
type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	InferenceSvc inference.IService
	DisplaySvc   display.IService
	CameraSvc    camera.IService
	Metrics      *metrics.Metrics
	Decoder      Decoder
	HTTPClient   *http.Client

	// Mux carries viewer endpoints registered by the display sinks. The mode
	// processor serves it on the configured HTTP address.
	Mux *http.ServeMux
}
