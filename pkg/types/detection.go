package types

// Detection is one scored object located in a frame. Box coordinates are
// absolute pixels in the source frame; Center is the box midpoint used for
// perimeter membership tests.
type Detection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        [4]int  `json:"bbox"`   // x1, y1, x2, y2
	Center     [2]int  `json:"center"` // cx, cy
}

// IntrusionType summarizes what kind of object entered the perimeter.
type IntrusionType string

const (
	IntrusionHuman    IntrusionType = "human"
	IntrusionAnimal   IntrusionType = "animal"
	IntrusionObject   IntrusionType = "object"
	IntrusionMultiple IntrusionType = "multiple"
	IntrusionUnknown  IntrusionType = "unknown"
	IntrusionNone     IntrusionType = "none"
)

// Stats is the per-tick pipeline snapshot published by the detection
// service. DetectionCount covers the whole frame; InPerimeter plus
// OutsidePerimeter always equals DetectionCount.
type Stats struct {
	FPS              float64 `json:"fps"`
	DetectionFPS     float64 `json:"detection_fps"`
	DetectionCount   int     `json:"detection_count"`
	InPerimeter      int     `json:"in_perimeter"`
	OutsidePerimeter int     `json:"outside_perimeter"`
}
