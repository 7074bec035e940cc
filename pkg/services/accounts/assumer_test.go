package accounts

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleARN(t *testing.T) {
	assert.Equal(t, "arn:aws:iam::123456789012:role/ParentAccountCliRole", RoleARN("123456789012", "ParentAccountCliRole"))
}

func TestAssumer_ConfigFor(t *testing.T) {
	base := aws.Config{
		Region:      "eu-west-2",
		Credentials: credentials.NewStaticCredentialsProvider("AKID", "SECRET", ""),
	}
	assumer := NewAssumer(base, "account-monitor")

	t.Run("returns an independent copy", func(t *testing.T) {
		cfg, err := assumer.ConfigFor(context.Background(), "123456789012", "ParentAccountCliRole")
		require.NoError(t, err)

		assert.Equal(t, "eu-west-2", cfg.Region)
		_, cached := cfg.Credentials.(*aws.CredentialsCache)
		assert.True(t, cached)

		_, static := base.Credentials.(credentials.StaticCredentialsProvider)
		assert.True(t, static, "base config credentials must not change")
	})

	t.Run("requires account and role", func(t *testing.T) {
		_, err := assumer.ConfigFor(context.Background(), "", "ParentAccountCliRole")
		assert.Error(t, err)

		_, err = assumer.ConfigFor(context.Background(), "123456789012", "")
		assert.Error(t, err)
	})
}

func TestStatic_ConfigFor(t *testing.T) {
	s := Static{Config: aws.Config{Region: "us-east-1"}}
	cfg, err := s.ConfigFor(context.Background(), "any", "any")
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", cfg.Region)
}
