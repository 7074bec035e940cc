package domain

import "time"

type UsageSourceType string

const (
	UsageSourceLogGroup     UsageSourceType = "LogGroup"
	UsageSourceCloudFront   UsageSourceType = "CloudFront"
	UsageSourceS3AccessLogs UsageSourceType = "S3AccessLogs"
)

// UsageSource is the metadata a stack publishes as a USAGETRACKING output.
type UsageSource struct {
	AccountID               string          `json:"-"`
	StackName               string          `json:"-"`
	Name                    string          `json:"name"`
	Source                  string          `json:"source"`
	Type                    UsageSourceType `json:"type"`
	SplitReportingByURLRoot bool            `json:"splitReportingByUrlRoot,omitempty"`
}

type UsageWindow struct {
	Start time.Time
	End   time.Time
}

// UsageEntry is one aggregated row from a log store query.
type UsageEntry struct {
	AccountID string
	StackName string
	Resource  string
	Date      string
	SourceIP  string
	Method    string
	Path      string
	Status    string
	Count     int64
}

type Risk string

const (
	RiskHigh    Risk = "high"
	RiskMedium  Risk = "medium"
	RiskLow     Risk = "low"
	RiskUnknown Risk = "unknown"
)

type IPInfo struct {
	IP               string
	Risk             Risk
	Description      string
	ShortDescription string
}

// UsageResult is what one account contributes to the usage report.
type UsageResult struct {
	AccountID string
	Entries   []UsageEntry
	Errors    []UsageSource
}
