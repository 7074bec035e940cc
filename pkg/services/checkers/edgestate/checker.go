package edgestate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/notify"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

const (
	MonitorType = "edge-infra-state-checker"
	Title       = "AWS edge device alert"

	MaxSilence = 24 * time.Hour

	messagePrefix = "The following devices last checked in over one day ago:\n\n"
)

// Schema names the tracking table attributes. The check-in attribute holds epoch milliseconds.
type Schema struct {
	KeyAttribute     string
	CheckInAttribute string
}

var DefaultSchema = Schema{KeyAttribute: "pk", CheckInAttribute: "sk"}

type Options struct {
	Client   dynamodb.ScanAPIClient
	Table    string
	Schema   Schema
	Notifier notify.Notifier
	Clock    clock.Clock
}

type Checker struct {
	client   dynamodb.ScanAPIClient
	table    string
	schema   Schema
	notifier notify.Notifier
	clock    clock.Clock
}

func NewChecker(opts Options) (*Checker, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("dynamodb client is nil")
	}
	if opts.Table == "" {
		return nil, fmt.Errorf("tracking table name is required")
	}
	if opts.Notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if opts.Schema.KeyAttribute == "" || opts.Schema.CheckInAttribute == "" {
		opts.Schema = DefaultSchema
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Checker{
		client:   opts.Client,
		table:    opts.Table,
		schema:   opts.Schema,
		notifier: opts.Notifier,
		clock:    opts.Clock,
	}, nil
}

// Silent returns devices whose last check-in is older than MaxSilence.
func (c *Checker) Silent(ctx context.Context) ([]domain.TrackedDevice, error) {
	cutoff := c.clock.Now().Add(-MaxSilence).UnixMilli()
	filter := expression.Name(c.schema.CheckInAttribute).LessThan(expression.Value(cutoff))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan filter: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(c.client, &dynamodb.ScanInput{
		TableName:                 aws.String(c.table),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var devices []domain.TrackedDevice
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c.table, err)
		}

		var items []map[string]any
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %s items: %w", c.table, err)
		}
		for _, item := range items {
			devices = append(devices, c.device(item))
		}
	}
	return devices, nil
}

func (c *Checker) device(item map[string]any) domain.TrackedDevice {
	d := domain.TrackedDevice{
		DeviceID:   fmt.Sprint(item[c.schema.KeyAttribute]),
		RawCheckIn: fmt.Sprint(item[c.schema.CheckInAttribute]),
	}
	if millis, ok := item[c.schema.CheckInAttribute].(float64); ok {
		d.LastCheckIn = time.UnixMilli(int64(millis)).UTC()
		d.RawCheckIn = strconv.FormatInt(int64(millis), 10)
	}
	return d
}

func FormatDevices(devices []domain.TrackedDevice) []string {
	lines := make([]string, 0, len(devices))
	for _, d := range devices {
		checkIn := d.RawCheckIn
		if !d.LastCheckIn.IsZero() {
			checkIn = d.LastCheckIn.Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", d.DeviceID, checkIn))
	}
	return lines
}

func (c *Checker) Run(ctx context.Context, invocationID string) error {
	logger := zerolog.Ctx(ctx)

	devices, err := c.Silent(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		logger.Info().Msg("no silent devices found")
		return nil
	}

	logger.Info().Int("devices", len(devices)).Msg("publishing silent devices")
	message := messagePrefix + strings.Join(FormatDevices(devices), "\n")
	if err := c.notifier.Publish(ctx, message, Title, invocationID); err != nil {
		return fmt.Errorf("failed to publish edge device alert: %w", err)
	}
	return nil
}

func NewJob(checker *Checker) runner.Job {
	return checker.Run
}
