package types

// AlertTimeFormat is the human-readable timestamp layout used in alert
// records and statistics.
const AlertTimeFormat = "2006-01-02 15:04:05"

// EvidenceTimeFormat is the timestamp layout embedded in saved evidence
// image filenames.
const EvidenceTimeFormat = "20060102_150405"

// AlertDetection is the trimmed per-object record stored with an alert.
type AlertDetection struct {
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
}

// AlertRecord is one intrusion event as persisted in the alert log.
// ImagePath is nil when no evidence image was saved.
type AlertRecord struct {
	ID             string           `json:"id"`
	Timestamp      string           `json:"timestamp"`
	IntrusionType  IntrusionType    `json:"intrusion_type"`
	DetectionCount int              `json:"detection_count"`
	ImagePath      *string          `json:"image_path"`
	Detections     []AlertDetection `json:"detections"`
}

// AlertStats aggregates alert activity since start or the last reset.
// LastAlert is "None" until the first alert fires.
type AlertStats struct {
	TotalAlerts  int            `json:"total_alerts"`
	AlertsByType map[string]int `json:"alerts_by_type"`
	LastAlert    string         `json:"last_alert"`
}
