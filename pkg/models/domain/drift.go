package domain

const (
	DetectionFailed   = "DETECTION_FAILED"
	DetectionComplete = "DETECTION_COMPLETE"

	DriftStatusDrifted = "DRIFTED"
	DriftStatusInSync  = "IN_SYNC"
)

type PropertyDifference struct {
	Path     string
	Expected string
	Actual   string
}

// ResourceDrift is one MODIFIED resource reported by stack drift detection.
type ResourceDrift struct {
	LogicalResourceID string
	ResourceType      string
	Differences       []PropertyDifference
}

type StackCheckResult struct {
	AccountID   string
	StackName   string
	DriftStatus string
}
