package login

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"
	"slices"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/notify"
	"github.com/de-tools/account-monitor/pkg/services/config"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "login-checker"
	Title       = "AWS account login alert"

	eventSource   = "signin.amazonaws.com"
	eventType     = "AwsConsoleSignIn"
	checkMfaEvent = "CheckMfa"
	switchRole    = "SwitchRole"
	unknown       = "[unknown]"

	messagePrefix = "The following cloudtrail records originated from IPs that weren't in expected ranges:\n\n"
)

type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Checker struct {
	ranges   []netip.Prefix
	notifier notify.Notifier
	objects  ObjectAPI
}

// NewChecker parses the accepted ranges up front. objects may be nil when only
// local files are checked.
func NewChecker(ranges []string, notifier notify.Notifier, objects ObjectAPI) (*Checker, error) {
	if notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	parsed := make([]netip.Prefix, 0, len(ranges))
	for _, r := range ranges {
		p, err := config.ParseRange(r)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	return &Checker{ranges: parsed, notifier: notifier, objects: objects}, nil
}

// HandleS3Event checks every log file named in a CloudTrail delivery notification.
func (c *Checker) HandleS3Event(ctx context.Context, invocationID string, event events.S3Event) error {
	for _, record := range event.Records {
		key := record.S3.Object.URLDecodedKey
		if key == "" {
			key = record.S3.Object.Key
		}
		if err := c.CheckObject(ctx, invocationID, record.S3.Bucket.Name, key); err != nil {
			return err
		}
	}
	return nil
}

func (c *Checker) CheckObject(ctx context.Context, invocationID, bucket, key string) error {
	if c.objects == nil {
		return fmt.Errorf("no object store configured")
	}
	zerolog.Ctx(ctx).Info().Str("bucket", bucket).Str("key", key).Msg("getting cloudtrail log")

	out, err := c.objects.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	return c.CheckReader(ctx, invocationID, out.Body)
}

func (c *Checker) CheckReader(ctx context.Context, invocationID string, r io.Reader) error {
	log, err := Decode(r)
	if err != nil {
		return err
	}
	_, err = c.Report(ctx, invocationID, c.Filter(ctx, log.Records))
	return err
}

// Decode reads a CloudTrail log file, gunzipping it when compressed.
func Decode(r io.Reader) (domain.CloudTrailLog, error) {
	var log domain.CloudTrailLog

	br := bufio.NewReader(r)
	var body io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return log, fmt.Errorf("failed to open cloudtrail log: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	if err := json.NewDecoder(body).Decode(&log); err != nil {
		return log, fmt.Errorf("failed to decode cloudtrail log: %w", err)
	}
	return log, nil
}

// Filter keeps successful console sign-ins and role switches from outside the accepted ranges.
func (c *Checker) Filter(ctx context.Context, records []domain.CloudTrailRecord) []domain.LoginEvent {
	logger := zerolog.Ctx(ctx)

	signIns := slices.DeleteFunc(slices.Clone(records), func(r domain.CloudTrailRecord) bool {
		return !isSuccessfulSignIn(r)
	})
	logger.Info().Int("records", len(records)).Int("sign_ins", len(signIns)).Msg("filtered sign-in events")

	var out []domain.LoginEvent
	for _, r := range signIns {
		if c.accepted(r.SourceIPAddress) {
			continue
		}
		out = append(out, toEvent(r))
	}
	logger.Info().Int("unexpected", len(out)).Msg("filtered source ips")
	return out
}

func isSuccessfulSignIn(r domain.CloudTrailRecord) bool {
	if r.EventSource != eventSource || r.EventType != eventType || r.EventName == checkMfaEvent {
		return false
	}
	return succeeded(r.ResponseElements, "ConsoleLogin") && succeeded(r.ResponseElements, "SwitchRole")
}

// succeeded treats a missing outcome as success.
func succeeded(elements map[string]any, key string) bool {
	v, ok := elements[key]
	return !ok || v == nil || v == "Success"
}

// accepted is false for source addresses that do not parse, such as service principals.
func (c *Checker) accepted(source string) bool {
	addr, err := netip.ParseAddr(source)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.ranges {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func toEvent(r domain.CloudTrailRecord) domain.LoginEvent {
	userType, userARN := unknown, unknown
	if r.UserIdentity != nil {
		userType, userARN = r.UserIdentity.Type, r.UserIdentity.ARN
	}
	user := userType + " - " + userARN
	if r.EventName == switchRole {
		from := unknown
		if r.AdditionalEventData != nil {
			from = r.AdditionalEventData.SwitchFrom
		}
		user += " from " + from
	}
	return domain.LoginEvent{
		User:      user,
		Time:      r.EventTime,
		SourceIP:  r.SourceIPAddress,
		UserAgent: r.UserAgent,
		Account:   r.RecipientAccountID,
		EventName: r.EventName,
	}
}

func FormatEvents(events []domain.LoginEvent) []string {
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("%s at %s from %s (%s) in account %s [%s]",
			e.User, e.Time, e.SourceIP, e.UserAgent, e.Account, e.EventName))
	}
	return lines
}

// Report publishes the events when there are any and reports whether it did.
func (c *Checker) Report(ctx context.Context, invocationID string, events []domain.LoginEvent) (bool, error) {
	if len(events) == 0 {
		zerolog.Ctx(ctx).Info().Msg("no sign-ins from unexpected ips")
		return false, nil
	}

	message := messagePrefix + strings.Join(FormatEvents(events), "\n")
	if err := c.notifier.Publish(ctx, message, Title, invocationID); err != nil {
		return false, fmt.Errorf("failed to publish login alert: %w", err)
	}
	return true, nil
}
