package sns

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sns.PublishOutput), args.Error(1)
}

func TestNewPublisher(t *testing.T) {
	t.Run("nil client", func(t *testing.T) {
		p, err := NewPublisher(nil, "arn:aws:sns:eu-west-2:123456789012:alerts", LogLocation{})
		assert.Error(t, err)
		assert.Nil(t, p)
	})

	t.Run("missing topic", func(t *testing.T) {
		p, err := NewPublisher(new(mockSNS), "", LogLocation{})
		assert.Error(t, err)
		assert.Nil(t, p)
	})
}

func TestPublisher_Publish(t *testing.T) {
	const topic = "arn:aws:sns:eu-west-2:123456789012:alerts"

	t.Run("appends invocation id and log link", func(t *testing.T) {
		client := new(mockSNS)
		p, err := NewPublisher(client, topic, LogLocation{
			Region: "eu-west-2",
			Group:  "/aws/lambda/iam-checker",
			Stream: "2025/06/13/[$LATEST]abc",
		})
		require.NoError(t, err)

		var sent *sns.PublishInput
		client.On("Publish", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { sent = args.Get(1).(*sns.PublishInput) }).
			Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

		require.NoError(t, p.Publish(context.Background(), "IAM issues found.", "AWS account IAM alert", "inv-1"))

		require.NotNil(t, sent)
		assert.Equal(t, topic, aws.ToString(sent.TopicArn))
		assert.Equal(t, "AWS account IAM alert", aws.ToString(sent.Subject))
		body := aws.ToString(sent.Message)
		assert.True(t, strings.HasPrefix(body, "IAM issues found.\n\ninvocationId=inv-1\n\n"))
		assert.Contains(t, body,
			"https://eu-west-2.console.aws.amazon.com/cloudwatch/home?region=eu-west-2#logsV2:log-groups/log-group/"+
				"$252Faws$252Flambda$252Fiam-checker/log-events/2025$252F06$252F13$252F$255B$2524LATEST$255Dabc")
	})

	t.Run("no log location", func(t *testing.T) {
		client := new(mockSNS)
		p, err := NewPublisher(client, topic, LogLocation{})
		require.NoError(t, err)

		client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
			return aws.ToString(in.Message) == "hello\n\ninvocationId=inv-2\n\n"
		})).Return(&sns.PublishOutput{}, nil)

		require.NoError(t, p.Publish(context.Background(), "hello", "title", "inv-2"))
		client.AssertExpectations(t)
	})

	t.Run("long subject is truncated", func(t *testing.T) {
		client := new(mockSNS)
		p, err := NewPublisher(client, topic, LogLocation{})
		require.NoError(t, err)

		client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
			return len(aws.ToString(in.Subject)) == maxSubjectLength
		})).Return(&sns.PublishOutput{}, nil)

		require.NoError(t, p.Publish(context.Background(), "m", strings.Repeat("x", 150), "inv-3"))
		client.AssertExpectations(t)
	})

	t.Run("publish failure", func(t *testing.T) {
		client := new(mockSNS)
		p, err := NewPublisher(client, topic, LogLocation{})
		require.NoError(t, err)

		client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

		err = p.Publish(context.Background(), "m", "t", "inv-4")
		assert.ErrorContains(t, err, "throttled")
	})
}
