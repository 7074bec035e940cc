package domain

// CloudTrailLog is the body of a delivered CloudTrail log file.
type CloudTrailLog struct {
	Records []CloudTrailRecord `json:"Records"`
}

type CloudTrailRecord struct {
	EventVersion        string               `json:"eventVersion"`
	UserIdentity        *UserIdentity        `json:"userIdentity"`
	EventTime           string               `json:"eventTime"`
	EventSource         string               `json:"eventSource"`
	EventName           string               `json:"eventName"`
	EventType           string               `json:"eventType"`
	AWSRegion           string               `json:"awsRegion"`
	SourceIPAddress     string               `json:"sourceIPAddress"`
	UserAgent           string               `json:"userAgent"`
	ResponseElements    map[string]any       `json:"responseElements"`
	AdditionalEventData *AdditionalEventData `json:"additionalEventData"`
	EventID             string               `json:"eventID"`
	RecipientAccountID  string               `json:"recipientAccountId"`
}

type UserIdentity struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
	ARN         string `json:"arn"`
	AccountID   string `json:"accountId"`
	UserName    string `json:"userName,omitempty"`
}

type AdditionalEventData struct {
	SwitchFrom string `json:"SwitchFrom,omitempty"`
	MFAUsed    string `json:"MFAUsed,omitempty"`
}

// LoginEvent is a sign-in that came from outside the accepted ranges.
type LoginEvent struct {
	User      string `json:"user"`
	Time      string `json:"time"`
	SourceIP  string `json:"sourceIp"`
	UserAgent string `json:"userAgent"`
	Account   string `json:"account"`
	EventName string `json:"eventName"`
}
