package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("invalid configuration")

const (
	StoreDynamoDB = "dynamodb"
	StoreDuckDB   = "duckdb"
)

// Settings are read from the environment, optionally overlaid on a YAML file.
// Keys are the lower-case form of the environment variable names.
type Settings struct {
	Checker     string `mapstructure:"checker"`
	AlertsTopic string `mapstructure:"alerts_topic"`
	Region      string `mapstructure:"aws_region"`
	Profile     string `mapstructure:"aws_profile"`
	LogLevel    string `mapstructure:"log_level"`
	DryRun      bool   `mapstructure:"dry_run"`
	ServerAddr  string `mapstructure:"server_addr"`

	LambdaLogGroup  string `mapstructure:"aws_lambda_log_group_name"`
	LambdaLogStream string `mapstructure:"aws_lambda_log_stream_name"`

	ChildAccounts    []string `mapstructure:"child_accounts"`
	AccountsFile     string   `mapstructure:"accounts_file"`
	CrossAccountRole string   `mapstructure:"cross_account_role"`
	UsageChildRole   string   `mapstructure:"usage_child_role"`
	RoleSessionName  string   `mapstructure:"role_session_name"`

	MonitorStore     string `mapstructure:"monitor_store"`
	MonitorTableName string `mapstructure:"monitor_table_name"`
	DuckDBPath       string `mapstructure:"duckdb_path"`
	ReminderWeekday  string `mapstructure:"reminder_weekday"`

	MaxCredentialAge        int `mapstructure:"max_credential_age"`
	MaxUnusedCredentialDays int `mapstructure:"max_unused_credential_days"`

	DriftRetryCooldown time.Duration `mapstructure:"drift_retry_cooldown"`
	PollMaxAttempts    int           `mapstructure:"poll_max_attempts"`

	IPRanges []string `mapstructure:"ip_ranges"`

	UptimeThingGroup string `mapstructure:"uptime_thing_group"`

	UsageEventAgeDays      int      `mapstructure:"usage_monitor_event_age_days"`
	AthenaWorkgroup        string   `mapstructure:"athena_workgroup_name"`
	AthenaDatabase         string   `mapstructure:"athena_database"`
	IPInfoURL              string   `mapstructure:"ip_info_url"`
	IPInfoToken            string   `mapstructure:"ip_info_token"`
	UsageHighRiskCountries []string `mapstructure:"usage_high_risk_countries"`
	UsageMyCountryCodes    []string `mapstructure:"usage_my_country_codes"`

	Budget float64 `mapstructure:"budget"`

	TrackingTableName        string `mapstructure:"table_name"`
	TrackingKeyAttribute     string `mapstructure:"tracking_key_attribute"`
	TrackingCheckInAttribute string `mapstructure:"tracking_checkin_attribute"`
}

var defaults = map[string]any{
	"checker":                      "",
	"alerts_topic":                 "",
	"aws_region":                   "eu-west-2",
	"aws_profile":                  "",
	"log_level":                    "info",
	"dry_run":                      false,
	"server_addr":                  ":8080",
	"aws_lambda_log_group_name":    "",
	"aws_lambda_log_stream_name":   "",
	"child_accounts":               []string{},
	"accounts_file":                "",
	"cross_account_role":           "ParentAccountCliRole",
	"usage_child_role":             "usageMonitorDelegate",
	"role_session_name":            "account-monitor",
	"monitor_store":                StoreDynamoDB,
	"monitor_table_name":           "",
	"duckdb_path":                  "account-monitor.db",
	"reminder_weekday":             "sunday",
	"max_credential_age":           90,
	"max_unused_credential_days":   90,
	"drift_retry_cooldown":         30 * time.Second,
	"poll_max_attempts":            30,
	"ip_ranges":                    []string{},
	"uptime_thing_group":           "uptime-monitoring",
	"usage_monitor_event_age_days": 7,
	"athena_workgroup_name":        "infraMonitoring",
	"athena_database":              "default",
	"ip_info_url":                  "https://ipinfo.io",
	"ip_info_token":                "",
	"usage_high_risk_countries":    []string{},
	"usage_my_country_codes":       []string{},
	"budget":                       0.0,
	"table_name":                   "",
	"tracking_key_attribute":       "pk",
	"tracking_checkin_attribute":   "sk",
}

// Load reads settings from the environment. A non-empty path adds a YAML or
// JSON file underneath; environment variables win.
func Load(path string) (Settings, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key); err != nil {
			return Settings{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return Settings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	settings.normalize()

	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) normalize() {
	s.ChildAccounts = cleanList(s.ChildAccounts, strings.TrimSpace)
	s.IPRanges = cleanList(s.IPRanges, strings.TrimSpace)
	s.UsageHighRiskCountries = cleanList(s.UsageHighRiskCountries, countryCode)
	s.UsageMyCountryCodes = cleanList(s.UsageMyCountryCodes, countryCode)
	s.MonitorStore = strings.ToLower(strings.TrimSpace(s.MonitorStore))
}

func countryCode(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func cleanList(values []string, clean func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = clean(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (s Settings) Validate() error {
	var errs []error

	switch s.MonitorStore {
	case StoreDynamoDB, StoreDuckDB:
	default:
		errs = append(errs, fmt.Errorf("monitor_store must be %q or %q, got %q", StoreDynamoDB, StoreDuckDB, s.MonitorStore))
	}

	if _, err := s.ReminderDay(); err != nil {
		errs = append(errs, err)
	}

	if s.MaxCredentialAge <= 0 {
		errs = append(errs, fmt.Errorf("max_credential_age must be positive"))
	}
	if s.MaxUnusedCredentialDays <= 0 {
		errs = append(errs, fmt.Errorf("max_unused_credential_days must be positive"))
	}
	if s.UsageEventAgeDays <= 0 {
		errs = append(errs, fmt.Errorf("usage_monitor_event_age_days must be positive"))
	}
	if s.PollMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("poll_max_attempts cannot be negative"))
	}

	for _, r := range s.IPRanges {
		if _, err := ParseRange(r); err != nil {
			errs = append(errs, err)
		}
	}

	mine := make(map[string]struct{}, len(s.UsageMyCountryCodes))
	for _, c := range s.UsageMyCountryCodes {
		mine[c] = struct{}{}
	}
	for _, c := range s.UsageHighRiskCountries {
		if _, ok := mine[c]; ok {
			errs = append(errs, fmt.Errorf("country %s is both high risk and one of my countries", c))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (s Settings) ReminderDay() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(s.ReminderWeekday))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown reminder_weekday %q", s.ReminderWeekday)
}

// ParseRange accepts a CIDR block or a bare address, which is treated as a single-host range.
func ParseRange(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("invalid ip range %q: %w", s, err)
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid ip range %q: %w", s, err)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
