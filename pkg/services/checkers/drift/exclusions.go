package drift

import (
	"regexp"
	"slices"

	"github.com/de-tools/account-monitor/pkg/models/domain"
)

// Exclusion recognises a known false positive of stack drift detection. Match
// must hold for every property difference of the resource.
type Exclusion struct {
	Name  string
	Match func(drift domain.ResourceDrift) bool
}

var (
	retryPolicyPath  = regexp.MustCompile(`/Targets/\d+/RetryPolicy`)
	retryPolicyValue = regexp.MustCompile(`\{"MaximumRetryAttempts":\d+\}`)

	integrationNullPaths = []string{"/PayloadFormatVersion", "/IntegrationUri", "/IntegrationType"}
)

var Exclusions = []Exclusion{
	{
		// aws-cloudformation/cloudformation-coverage-roadmap#791
		Name: "api-gateway-null-body",
		Match: func(d domain.ResourceDrift) bool {
			return d.ResourceType == "AWS::ApiGatewayV2::Api" && everyDiff(d, func(p domain.PropertyDifference) bool {
				return p.Path == "/Body" && p.Actual == "null"
			})
		},
	},
	{
		Name: "api-gateway-integration-null-props",
		Match: func(d domain.ResourceDrift) bool {
			return d.ResourceType == "AWS::ApiGatewayV2::Integration" && everyDiff(d, func(p domain.PropertyDifference) bool {
				return p.Actual == "null" && slices.Contains(integrationNullPaths, p.Path)
			})
		},
	},
	{
		// aws-cloudformation/cloudformation-coverage-roadmap#956
		Name: "events-rule-retry-policy",
		Match: func(d domain.ResourceDrift) bool {
			return d.ResourceType == "AWS::Events::Rule" && everyDiff(d, func(p domain.PropertyDifference) bool {
				return retryPolicyPath.MatchString(p.Path) && retryPolicyValue.MatchString(p.Expected) && p.Actual == "null"
			})
		},
	},
	{
		// aws-cloudformation/cloudformation-coverage-roadmap#901, any resource type
		Name: "missing-tags",
		Match: func(d domain.ResourceDrift) bool {
			return everyDiff(d, func(p domain.PropertyDifference) bool {
				return p.Path == "/Tags" && p.Actual == "null"
			})
		},
	},
}

func everyDiff(d domain.ResourceDrift, pred func(domain.PropertyDifference) bool) bool {
	for _, diff := range d.Differences {
		if !pred(diff) {
			return false
		}
	}
	return true
}

// Unacceptable returns the drifts no exclusion explains.
func Unacceptable(drifts []domain.ResourceDrift) []domain.ResourceDrift {
	var out []domain.ResourceDrift
	for _, d := range drifts {
		if !slices.ContainsFunc(Exclusions, func(e Exclusion) bool { return e.Match(d) }) {
			out = append(out, d)
		}
	}
	return out
}

// DiffsAreAcceptable reports whether every drift is a known false positive. An empty list is acceptable.
func DiffsAreAcceptable(drifts []domain.ResourceDrift) bool {
	return len(Unacceptable(drifts)) == 0
}
