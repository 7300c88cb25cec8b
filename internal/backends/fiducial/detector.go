package fiducial

import (
	"context"
	"fmt"
	"strconv"

	"github.com/banshee-data/xrsession/internal/scene"
)

// MarkerType is how a detector recognises a marker.
type MarkerType string

const (
	MarkerPattern MarkerType = "pattern"
	MarkerBarcode MarkerType = "barcode"
	MarkerUnknown MarkerType = "unknown"
)

// Marker describes one physical marker to track.
type Marker struct {
	// PatternURL locates a trained pattern file. It takes precedence over
	// Barcode.
	PatternURL string `json:"pattern_url,omitempty"`
	// Barcode is a matrix code value. Zero means unset.
	Barcode int `json:"barcode,omitempty"`
	// Params are passed through to the detector untouched.
	Params map[string]any `json:"params,omitempty"`
}

// Type derives the marker type from whichever field is set.
func (m Marker) Type() MarkerType {
	switch {
	case m.PatternURL != "":
		return MarkerPattern
	case m.Barcode != 0:
		return MarkerBarcode
	default:
		return MarkerUnknown
	}
}

// Key identifies the marker in detector output, e.g. "barcode:5".
func (m Marker) Key() string {
	switch m.Type() {
	case MarkerPattern:
		return "pattern:" + m.PatternURL
	case MarkerBarcode:
		return "barcode:" + strconv.Itoa(m.Barcode)
	default:
		return string(MarkerUnknown)
	}
}

// Params configure the detection source and context.
type Params struct {
	SourceType          string  `json:"source_type,omitempty"`
	CameraParametersURL string  `json:"camera_parameters_url,omitempty"`
	DetectionMode       string  `json:"detection_mode,omitempty"`
	PatternRatio        float64 `json:"pattern_ratio,omitempty"`
	MatrixCodeType      string  `json:"matrix_code_type,omitempty"`
}

var (
	sourceTypes     = []string{"webcam", "image", "video"}
	detectionModes  = []string{"color", "color_and_matrix", "mono", "mono_and_matrix"}
	matrixCodeTypes = []string{"3x3", "3x3_HAMMING63", "3x3_PARITY65", "4x4", "4x4_BCH_13_9_3", "4x4_BCH_13_5_5"}
)

// DefaultCameraParameters is used when CameraParametersURL is empty.
const DefaultCameraParameters = "camera_params.dat"

// WithDefaults fills unset fields.
func (p Params) WithDefaults() Params {
	if p.SourceType == "" {
		p.SourceType = "webcam"
	}
	if p.CameraParametersURL == "" {
		p.CameraParametersURL = DefaultCameraParameters
	}
	if p.DetectionMode == "" {
		p.DetectionMode = "mono"
	}
	if p.PatternRatio == 0 {
		p.PatternRatio = 0.5
	}
	if p.MatrixCodeType == "" {
		p.MatrixCodeType = "3x3"
	}
	return p
}

// Validate checks enumerated fields and ranges. Empty fields are allowed.
func (p Params) Validate() error {
	if p.SourceType != "" && !oneOf(p.SourceType, sourceTypes) {
		return fmt.Errorf("fiducial: source_type must be one of %v, got %q", sourceTypes, p.SourceType)
	}
	if p.DetectionMode != "" && !oneOf(p.DetectionMode, detectionModes) {
		return fmt.Errorf("fiducial: detection_mode must be one of %v, got %q", detectionModes, p.DetectionMode)
	}
	if p.MatrixCodeType != "" && !oneOf(p.MatrixCodeType, matrixCodeTypes) {
		return fmt.Errorf("fiducial: matrix_code_type must be one of %v, got %q", matrixCodeTypes, p.MatrixCodeType)
	}
	if p.PatternRatio < 0 || p.PatternRatio >= 1 {
		return fmt.Errorf("fiducial: pattern_ratio must be in [0, 1), got %v", p.PatternRatio)
	}
	return nil
}

func oneOf(s string, set []string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Calibration is what the detector's camera parameters imply for the shared
// camera and renderer.
type Calibration struct {
	FOV    float64
	Width  int
	Height int
}

// Controls is the detector's hold on one tracked node.
type Controls interface {
	Dispose()
}

// Detector is the marker tracking library. The backend drives it; nothing
// here decodes images.
//
// InitSource and InitContext may block and should honour ctx. Once
// ControllerReady reports true, Track may be called; the returned Controls
// own the node's transform and toggle its visibility from Process.
type Detector interface {
	InitSource(ctx context.Context, p Params) error
	InitContext(ctx context.Context, p Params) (Calibration, error)
	SourceReady() bool
	ControllerReady() bool
	Track(node *scene.Node, m Marker) (Controls, error)
	Process() error
	Dispose() error
}
