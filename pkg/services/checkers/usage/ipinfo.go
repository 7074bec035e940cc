package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
)

const (
	DefaultIPInfoURL = "https://ipinfo.io"

	missingAuthReadme = "https://ipinfo.io/missingauth"
)

var ErrIPInfoAuth = errors.New("IP_INFO_TOKEN not set or invalid")

// IPLookup resolves addresses to a risk rating. Results are keyed by address.
type IPLookup interface {
	Lookup(ctx context.Context, ips []string) (map[string]domain.IPInfo, error)
}

type ipinfoEntry struct {
	IP      string `json:"ip"`
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
	Org     string `json:"org"`
	Readme  string `json:"readme"`
	Bogon   bool   `json:"bogon"`
}

type Countries struct {
	HighRisk []string
	Mine     []string
}

// IPInfoClient uses the ipinfo.io batch endpoint.
type IPInfoClient struct {
	http      *retryablehttp.Client
	baseURL   string
	token     string
	countries Countries
}

func NewIPInfoClient(baseURL, token string, countries Countries) (*IPInfoClient, error) {
	if token == "" {
		return nil, ErrIPInfoAuth
	}
	if baseURL == "" {
		baseURL = DefaultIPInfoURL
	}
	for _, code := range countries.HighRisk {
		if slices.Contains(countries.Mine, code) {
			return nil, fmt.Errorf("country %s cannot be both high risk and one of mine", code)
		}
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &IPInfoClient{
		http:      client,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		token:     token,
		countries: countries,
	}, nil
}

// Lookup sends the unique addresses in one batch. An empty input makes no request.
func (c *IPInfoClient) Lookup(ctx context.Context, ips []string) (map[string]domain.IPInfo, error) {
	unique := slices.Compact(slices.Sorted(slices.Values(ips)))
	if len(unique) == 0 {
		return map[string]domain.IPInfo{}, nil
	}

	body, err := json.Marshal(unique)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ip batch: %w", err)
	}

	endpoint := c.baseURL + "/batch?token=" + url.QueryEscape(c.token)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build ip batch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %d ips: %w", len(unique), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrIPInfoAuth
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ip lookup returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var entries map[string]ipinfoEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("failed to decode ip lookup: %w", err)
	}

	results := make(map[string]domain.IPInfo, len(entries))
	for key, entry := range entries {
		if entry.Readme == missingAuthReadme {
			return nil, ErrIPInfoAuth
		}
		ip := entry.IP
		if ip == "" {
			ip = key
		}
		results[ip] = c.classify(ip, entry)
	}
	zerolog.Ctx(ctx).Debug().Int("ips", len(unique)).Int("resolved", len(results)).Msg("ip lookup complete")
	return results, nil
}

func (c *IPInfoClient) classify(ip string, e ipinfoEntry) domain.IPInfo {
	info := domain.IPInfo{
		IP:               ip,
		Description:      fmt.Sprintf("%s > %s > %s (%s)", e.Country, e.Region, e.City, e.Org),
		ShortDescription: fmt.Sprintf("%s (%s)", e.Country, e.Org),
	}
	switch {
	case e.Bogon:
		info.Risk = domain.RiskLow
		info.Description, info.ShortDescription = "private address", "private address"
	case slices.Contains(c.countries.HighRisk, e.Country):
		info.Risk = domain.RiskHigh
	case slices.Contains(c.countries.Mine, e.Country):
		info.Risk = domain.RiskLow
	default:
		info.Risk = domain.RiskMedium
	}
	return info
}
