package sns

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

const maxSubjectLength = 100

type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// LogLocation points at the log stream of the running function, if any.
type LogLocation struct {
	Region string
	Group  string
	Stream string
}

type Publisher struct {
	client   API
	topicARN string
	logs     LogLocation
}

func NewPublisher(client API, topicARN string, logs LogLocation) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("sns client is nil")
	}
	if topicARN == "" {
		return nil, fmt.Errorf("alerts topic is required")
	}
	return &Publisher{
		client:   client,
		topicARN: topicARN,
		logs:     logs,
	}, nil
}

func NewPublisherFromConfig(cfg aws.Config, topicARN string, logs LogLocation) (*Publisher, error) {
	return NewPublisher(sns.NewFromConfig(cfg), topicARN, logs)
}

func (p *Publisher) Publish(ctx context.Context, message, title, invocationID string) error {
	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Subject:  aws.String(truncateSubject(title)),
		Message:  aws.String(p.body(message, invocationID)),
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification %q: %w", title, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("title", title).
		Str("message_id", aws.ToString(out.MessageId)).
		Msg("notification published")
	return nil
}

func (p *Publisher) body(message, invocationID string) string {
	var b strings.Builder
	b.WriteString(message)
	b.WriteString("\n\ninvocationId=")
	b.WriteString(invocationID)
	b.WriteString("\n\n")
	if link := p.logs.ConsoleLink(); link != "" {
		b.WriteString(link)
	}
	return b.String()
}

// ConsoleLink returns the CloudWatch console URL of the log stream, or "" when unknown.
func (l LogLocation) ConsoleLink() string {
	if l.Region == "" || l.Group == "" || l.Stream == "" {
		return ""
	}
	return fmt.Sprintf(
		"https://%[1]s.console.aws.amazon.com/cloudwatch/home?region=%[1]s#logsV2:log-groups/log-group/%[2]s/log-events/%[3]s",
		l.Region,
		consoleEncode(l.Group),
		consoleEncode(l.Stream),
	)
}

// consoleEncode applies the double escaping the CloudWatch console expects in fragment paths.
func consoleEncode(s string) string {
	return strings.ReplaceAll(encodeURIComponent(encodeURIComponent(s)), "%", "$")
}

func encodeURIComponent(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnescaped(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&15])
	}
	return b.String()
}

func isUnescaped(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.!~*'()", c) >= 0
}

func truncateSubject(title string) string {
	if utf8.RuneCountInString(title) <= maxSubjectLength {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxSubjectLength])
}
