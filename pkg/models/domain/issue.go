package domain

import (
	"fmt"
	"time"
)

type IssueKind string

const (
	IssueKindCredential IssueKind = "credential"
	IssueKindDrift      IssueKind = "drift"
	IssueKindDevice     IssueKind = "device"
	IssueKindSpend      IssueKind = "spend"
)

func (k IssueKind) IsValid() bool {
	switch k {
	case IssueKindCredential,
		IssueKindDrift,
		IssueKindDevice,
		IssueKindSpend:
		return true
	default:
		return false
	}
}

// Issue is a single detected problem tracked across runs by PK.
// Exactly one payload pointer is set and it always matches Kind.
type Issue struct {
	PK        string    `json:"pk"`
	AccountID string    `json:"accountId,omitempty"`
	Kind      IssueKind `json:"kind"`

	Credential *CredentialFinding `json:"credential,omitempty"`
	Drift      *StackDrift        `json:"drift,omitempty"`
	Device     *DeviceDisconnect  `json:"device,omitempty"`
	Spend      *SpendOverrun      `json:"spend,omitempty"`
}

type CredentialFinding struct {
	Resource  string `json:"resource"`
	Attribute string `json:"attribute"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

type StackDrift struct {
	StackName   string `json:"stackName"`
	DriftStatus string `json:"driftStatus"`
}

type DeviceDisconnect struct {
	ThingName      string     `json:"thingName"`
	ThingID        string     `json:"thingId"`
	DisconnectedAt *time.Time `json:"disconnectedAt,omitempty"`
}

type SpendOverrun struct {
	Period   string  `json:"period"`
	Budget   float64 `json:"budget"`
	Actual   float64 `json:"actual"`
	Currency string  `json:"currency"`
}

func NewCredentialIssue(accountID string, finding CredentialFinding) Issue {
	return Issue{AccountID: accountID, Kind: IssueKindCredential, Credential: &finding}
}

func NewDriftIssue(accountID string, drift StackDrift) Issue {
	return Issue{AccountID: accountID, Kind: IssueKindDrift, Drift: &drift}
}

func NewDeviceIssue(device DeviceDisconnect) Issue {
	return Issue{Kind: IssueKindDevice, Device: &device}
}

func NewSpendIssue(accountID string, spend SpendOverrun) Issue {
	return Issue{AccountID: accountID, Kind: IssueKindSpend, Spend: &spend}
}

// Validate checks that the payload matches the declared kind.
func (i Issue) Validate() error {
	if !i.Kind.IsValid() {
		return fmt.Errorf("invalid issue kind %q", i.Kind)
	}

	set := 0
	for _, present := range []bool{i.Credential != nil, i.Drift != nil, i.Device != nil, i.Spend != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("issue %q must carry exactly one payload, got %d", i.PK, set)
	}

	var ok bool
	switch i.Kind {
	case IssueKindCredential:
		ok = i.Credential != nil
	case IssueKindDrift:
		ok = i.Drift != nil
	case IssueKindDevice:
		ok = i.Device != nil
	case IssueKindSpend:
		ok = i.Spend != nil
	}
	if !ok {
		return fmt.Errorf("issue %q payload does not match kind %q", i.PK, i.Kind)
	}
	return nil
}

// Reconciliation is the outcome of diffing the current issues against the stored ones.
type Reconciliation struct {
	Raised   []Issue
	Existing []Issue
	Fixed    []Issue
}

func (r Reconciliation) Changed() bool {
	return len(r.Raised) > 0 || len(r.Fixed) > 0
}

// Record is one stored key/value pair of a monitor table.
type Record struct {
	Key   string
	Value []byte
}
