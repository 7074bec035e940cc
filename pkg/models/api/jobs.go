package api

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Job struct {
	Name string `json:"name"`
}

type RunResult struct {
	Job          string `json:"job"`
	InvocationID string `json:"invocation_id"`
	Status       Status `json:"status"`
	Error        string `json:"error,omitempty"`
}

// LoginCheck names a CloudTrail log file in S3.
type LoginCheck struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}
