package usage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/services/retry"
	"github.com/rs/zerolog"
)

const (
	DefaultWorkgroup = "infraMonitoring"
	DefaultDatabase  = "default"

	athenaDate = "2006-01-02"
)

const createTableTemplate = "CREATE EXTERNAL TABLE IF NOT EXISTS `%s.%s` (\n" +
	"  `date` DATE,\n  time STRING,\n  location STRING,\n  bytes BIGINT,\n  request_ip STRING,\n" +
	"  method STRING,\n  host STRING,\n  uri STRING,\n  status INT,\n  referrer STRING,\n  user_agent STRING,\n" +
	"  query_string STRING,\n  cookie STRING,\n  result_type STRING,\n  request_id STRING,\n  host_header STRING,\n" +
	"  request_protocol STRING,\n  request_bytes BIGINT,\n  time_taken FLOAT,\n  xforwarded_for STRING,\n" +
	"  ssl_protocol STRING,\n  ssl_cipher STRING,\n  response_result_type STRING,\n  http_version STRING,\n" +
	"  fle_status STRING,\n  fle_encrypted_fields INT,\n  c_port INT,\n  time_to_first_byte FLOAT,\n" +
	"  x_edge_detailed_result_type STRING,\n  sc_content_type STRING,\n  sc_content_len BIGINT,\n" +
	"  sc_range_start BIGINT,\n  sc_range_end BIGINT\n)\n" +
	"ROW FORMAT DELIMITED\nFIELDS TERMINATED BY '\\t'\n" +
	"LOCATION 's3://%s/%s/%s/'\n" +
	"TBLPROPERTIES ( 'skip.header.line.count'='2' )"

const aggregateTemplate = `SELECT status, date, request_ip, method, count(*) as count
FROM %s.%s
WHERE "date" BETWEEN DATE '%s' AND DATE '%s'
AND uri != '/favicon.ico'
GROUP BY status, date, request_ip, method`

var unsafeTableChars = regexp.MustCompile(`[^a-z_0-9]`)

type AthenaAPI interface {
	athena.GetQueryResultsAPIClient
	StartQueryExecution(
		ctx context.Context,
		params *athena.StartQueryExecutionInput,
		optFns ...func(*athena.Options),
	) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(
		ctx context.Context,
		params *athena.GetQueryExecutionInput,
		optFns ...func(*athena.Options),
	) (*athena.GetQueryExecutionOutput, error)
}

type athenaQuerier struct {
	client    AthenaAPI
	workgroup string
	database  string
	poll      retry.Params
}

func SafeTableName(name string) string {
	return unsafeTableChars.ReplaceAllString(strings.ToLower(name), "__")
}

// queryCloudFront makes sure a table exists over the distribution's log prefix and aggregates it.
func (q *athenaQuerier) queryCloudFront(ctx context.Context, source domain.UsageSource, window domain.UsageWindow) ([]domain.UsageEntry, error) {
	table := SafeTableName(fmt.Sprintf("cloudfrontlogs_%s_%s", source.StackName, source.Name))

	create := fmt.Sprintf(createTableTemplate, q.database, table, source.Source, source.StackName, source.Name)
	if _, err := q.execute(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	zerolog.Ctx(ctx).Debug().Str("table", table).Msg("athena table ready")

	query := fmt.Sprintf(aggregateTemplate, q.database, table, window.Start.Format(athenaDate), window.End.Format(athenaDate))
	rows, err := q.execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// The first row holds the column names.
	entries := make([]domain.UsageEntry, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cells := make([]string, 5)
		for i := range min(len(row.Data), len(cells)) {
			cells[i] = aws.ToString(row.Data[i].VarCharValue)
		}
		count, _ := strconv.ParseInt(cells[4], 10, 64)
		entries = append(entries, domain.UsageEntry{
			AccountID: source.AccountID,
			StackName: source.StackName,
			Resource:  source.Name,
			Status:    cells[0],
			Date:      cells[1],
			SourceIP:  cells[2],
			Method:    cells[3],
			Count:     count,
		})
	}
	return entries, nil
}

func (q *athenaQuerier) execute(ctx context.Context, sql string) ([]types.Row, error) {
	started, err := q.client.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString:           aws.String(sql),
		WorkGroup:             aws.String(q.workgroup),
		QueryExecutionContext: &types.QueryExecutionContext{Database: aws.String(q.database)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start query: %w", err)
	}
	id := started.QueryExecutionId

	_, err = retry.Do(ctx, q.poll, func(ctx context.Context) (struct{}, error) {
		out, err := q.client.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{QueryExecutionId: id})
		if err != nil {
			return struct{}{}, err
		}
		if out.QueryExecution == nil || out.QueryExecution.Status == nil {
			return struct{}{}, fmt.Errorf("no status yet: %w", retry.ErrNotReady)
		}
		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return struct{}{}, nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return struct{}{}, retry.Permanent(fmt.Errorf("query %s %s: %s",
				aws.ToString(id), status.State, aws.ToString(status.StateChangeReason)))
		default:
			return struct{}{}, fmt.Errorf("state=%s: %w", status.State, retry.ErrNotReady)
		}
	})
	if err != nil {
		return nil, err
	}

	var rows []types.Row
	paginator := athena.NewGetQueryResultsPaginator(q.client, &athena.GetQueryResultsInput{QueryExecutionId: id})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read results of %s: %w", aws.ToString(id), err)
		}
		if page.ResultSet != nil {
			rows = append(rows, page.ResultSet.Rows...)
		}
	}
	return rows, nil
}
