package accounts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// ConfigProvider yields provider configuration scoped to a role in a child account.
type ConfigProvider interface {
	ConfigFor(ctx context.Context, accountID, roleName string) (aws.Config, error)
}

// Assumer builds per-account configs from the parent config. The parent config is
// never modified; every call returns an independent copy.
type Assumer struct {
	base        aws.Config
	stsClient   stscreds.AssumeRoleAPIClient
	sessionName string
}

func NewAssumer(base aws.Config, sessionName string) *Assumer {
	return &Assumer{
		base:        base,
		stsClient:   sts.NewFromConfig(base),
		sessionName: sessionName,
	}
}

func RoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

func (a *Assumer) ConfigFor(_ context.Context, accountID, roleName string) (aws.Config, error) {
	if accountID == "" || roleName == "" {
		return aws.Config{}, fmt.Errorf("account id and role name are required")
	}

	provider := stscreds.NewAssumeRoleProvider(a.stsClient, RoleARN(accountID, roleName), func(o *stscreds.AssumeRoleOptions) {
		if a.sessionName != "" {
			o.RoleSessionName = a.sessionName
		}
	})

	cfg := a.base.Copy()
	cfg.Credentials = aws.NewCredentialsCache(provider)
	return cfg, nil
}

// Static hands out the same config for every account. Used for local runs against a single account.
type Static struct {
	Config aws.Config
}

func (s Static) ConfigFor(_ context.Context, _, _ string) (aws.Config, error) {
	return s.Config.Copy(), nil
}
