package edgestate

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, time.June, 13, 12, 0, 0, 0, time.UTC)

type mockScan struct {
	mock.Mock
}

func (m *mockScan) Scan(ctx context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.ScanOutput), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Publish(ctx context.Context, message, title, invocationID string) error {
	args := m.Called(ctx, message, title, invocationID)
	return args.Error(0)
}

func setupChecker(t *testing.T, items ...map[string]types.AttributeValue) (*Checker, *mockScan, *mockNotifier) {
	t.Helper()
	client := new(mockScan)
	client.On("Scan", mock.Anything, mock.MatchedBy(func(in *dynamodb.ScanInput) bool {
		value, ok := in.ExpressionAttributeValues[":0"].(*types.AttributeValueMemberN)
		return aws.ToString(in.TableName) == "edge-tracking" &&
			in.FilterExpression != nil &&
			in.ExpressionAttributeNames["#0"] == "sk" &&
			ok && value.Value == "1749729600000"
	})).Return(&dynamodb.ScanOutput{Items: items}, nil)

	notifier := new(mockNotifier)
	checker, err := NewChecker(Options{
		Client:   client,
		Table:    "edge-tracking",
		Notifier: notifier,
		Clock:    clock.Fixed(now),
	})
	require.NoError(t, err)
	return checker, client, notifier
}

func TestChecker_Run(t *testing.T) {
	t.Run("publishes silent devices", func(t *testing.T) {
		checker, client, notifier := setupChecker(t, map[string]types.AttributeValue{
			"pk": &types.AttributeValueMemberS{Value: "edge-7"},
			"sk": &types.AttributeValueMemberN{Value: "1749600000000"},
		})
		notifier.On("Publish", mock.Anything,
			"The following devices last checked in over one day ago:\n\nedge-7: 2025-06-11T00:00:00Z",
			"AWS edge device alert", "inv-1").Return(nil).Once()

		require.NoError(t, checker.Run(context.Background(), "inv-1"))
		client.AssertExpectations(t)
		notifier.AssertExpectations(t)
	})

	t.Run("quiet when every device checked in", func(t *testing.T) {
		checker, _, notifier := setupChecker(t)

		require.NoError(t, checker.Run(context.Background(), "inv-1"))
		notifier.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestNewChecker(t *testing.T) {
	_, err := NewChecker(Options{Table: "t", Notifier: new(mockNotifier)})
	assert.Error(t, err)

	_, err = NewChecker(Options{Client: new(mockScan), Notifier: new(mockNotifier)})
	assert.Error(t, err)
}
