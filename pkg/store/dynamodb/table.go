package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/rs/zerolog"
)

const (
	// MaxBatchSize is the service limit on items per BatchWriteItem call.
	MaxBatchSize = 25

	KeyAttribute   = "pk"
	ValueAttribute = "obj"
)

var unprocessedRetry = retry.Params{
	StartingDelay: 200 * time.Millisecond,
	MaxDelay:      5 * time.Second,
	MaxAttempts:   8,
}

type API interface {
	dynamodb.ScanAPIClient
	BatchWriteItem(
		ctx context.Context,
		params *dynamodb.BatchWriteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.BatchWriteItemOutput, error)
}

type item struct {
	PK  string `dynamodbav:"pk"`
	Obj string `dynamodbav:"obj"`
}

// Table stores monitor records as {pk, obj} string pairs.
type Table struct {
	client API
	name   string
	retry  retry.Params
}

func NewTable(client API, name string) (*Table, error) {
	if client == nil {
		return nil, fmt.Errorf("dynamodb client is nil")
	}
	if name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	return &Table{
		client: client,
		name:   name,
		retry:  unprocessedRetry,
	}, nil
}

func NewTableFromConfig(cfg aws.Config, name string) (*Table, error) {
	return NewTable(dynamodb.NewFromConfig(cfg), name)
}

func (t *Table) Scan(ctx context.Context, prefix string) ([]domain.Record, error) {
	filter := expression.Name(KeyAttribute).BeginsWith(prefix)
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan filter: %w", err)
	}

	paginator := dynamodb.NewScanPaginator(t.client, &dynamodb.ScanInput{
		TableName:                 aws.String(t.name),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var records []domain.Record
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.name, err)
		}

		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("failed to decode %s items: %w", t.name, err)
		}
		for _, it := range items {
			records = append(records, domain.Record{Key: it.PK, Value: []byte(it.Obj)})
		}
	}
	return records, nil
}

func (t *Table) BatchWrite(ctx context.Context, puts []domain.Record, deletes []string) error {
	requests := make([]types.WriteRequest, 0, len(puts)+len(deletes))
	for _, record := range puts {
		av, err := attributevalue.MarshalMap(item{PK: record.Key, Obj: string(record.Value)})
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", record.Key, err)
		}
		requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	for _, key := range deletes {
		requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{
				KeyAttribute: &types.AttributeValueMemberS{Value: key},
			},
		}})
	}

	for start := 0; start < len(requests); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(requests))
		if err := t.writeChunk(ctx, requests[start:end]); err != nil {
			return err
		}
	}

	zerolog.Ctx(ctx).Debug().
		Str("table", t.name).
		Int("puts", len(puts)).
		Int("deletes", len(deletes)).
		Msg("batch write complete")
	return nil
}

// writeChunk sends up to MaxBatchSize requests and re-sends whatever the service leaves unprocessed.
func (t *Table) writeChunk(ctx context.Context, requests []types.WriteRequest) error {
	pending := requests
	_, err := retry.Do(ctx, t.retry, func(ctx context.Context) (struct{}, error) {
		out, err := t.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{t.name: pending},
		})
		if err != nil {
			return struct{}{}, retry.Permanent(err)
		}
		if left := out.UnprocessedItems[t.name]; len(left) > 0 {
			pending = left
			return struct{}{}, fmt.Errorf("%d unprocessed items: %w", len(left), retry.ErrNotReady)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to write batch to %s: %w", t.name, err)
	}
	return nil
}
