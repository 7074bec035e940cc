package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/de-tools/account-monitor/pkg/notify"
	"github.com/de-tools/account-monitor/pkg/services/clock"
	"github.com/de-tools/account-monitor/pkg/services/runner"
	"github.com/rs/zerolog"
)

// Table is the key/value persistence the store reconciles against.
type Table interface {
	Scan(ctx context.Context, prefix string) ([]domain.Record, error)
	BatchWrite(ctx context.Context, puts []domain.Record, deletes []string) error
}

// Definition describes one checker's view of the shared store.
type Definition struct {
	// Type scopes the key space, e.g. "iam-checker".
	Type  string
	Label string
	// Format renders one display line per issue.
	Format func(issues []domain.Issue) []string
	// AssignKeys sets PK on every issue in place.
	AssignKeys func(issues []domain.Issue)
	// Subject overrides the default "AWS account {Label} alert" title.
	Subject string
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithReminderDay sets the weekday on which unchanged issues are re-sent.
func WithReminderDay(day time.Weekday) Option {
	return func(s *Store) {
		s.reminderDay = day
	}
}

type Store struct {
	table       Table
	notifier    notify.Notifier
	def         Definition
	clock       clock.Clock
	reminderDay time.Weekday
}

func NewStore(table Table, notifier notify.Notifier, def Definition, opts ...Option) (*Store, error) {
	if table == nil {
		return nil, fmt.Errorf("monitor table is nil")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is nil")
	}
	if def.Type == "" {
		return nil, fmt.Errorf("monitor type cannot be empty")
	}
	if def.Format == nil || def.AssignKeys == nil {
		return nil, fmt.Errorf("monitor %q requires a formatter and a key assigner", def.Type)
	}

	s := &Store{
		table:       table,
		notifier:    notifier,
		def:         def,
		clock:       clock.System{},
		reminderDay: time.Sunday,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) prefix() string {
	return s.def.Type + "--"
}

func (s *Store) Subject() string {
	if s.def.Subject != "" {
		return s.def.Subject
	}
	return fmt.Sprintf("AWS account %s alert", s.def.Label)
}

// Reconcile assigns keys to current, diffs it against the stored issues and
// persists the current set. The returned classification is what changed.
func (s *Store) Reconcile(ctx context.Context, current []domain.Issue) (domain.Reconciliation, error) {
	current, err := s.keyed(current)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	previous, err := s.previous(ctx)
	if err != nil {
		return domain.Reconciliation{}, err
	}

	currentPKs := make(map[string]struct{}, len(current))
	for _, issue := range current {
		currentPKs[issue.PK] = struct{}{}
	}
	previousPKs := make(map[string]struct{}, len(previous))
	for _, issue := range previous {
		previousPKs[issue.PK] = struct{}{}
	}

	var result domain.Reconciliation
	var puts []domain.Record
	for _, issue := range current {
		if _, stored := previousPKs[issue.PK]; stored {
			result.Existing = append(result.Existing, issue)
			continue
		}
		value, err := json.Marshal(issue)
		if err != nil {
			return domain.Reconciliation{}, fmt.Errorf("failed to encode issue %q: %w", issue.PK, err)
		}
		puts = append(puts, domain.Record{Key: s.prefix() + issue.PK, Value: value})
		result.Raised = append(result.Raised, issue)
	}

	var deletes []string
	for _, issue := range previous {
		if _, ok := currentPKs[issue.PK]; ok {
			continue
		}
		deletes = append(deletes, s.prefix()+issue.PK)
		result.Fixed = append(result.Fixed, issue)
	}

	if len(puts) > 0 || len(deletes) > 0 {
		if err := s.table.BatchWrite(ctx, puts, deletes); err != nil {
			return domain.Reconciliation{}, fmt.Errorf("failed to update %s issues: %w", s.def.Type, err)
		}
	}

	return result, nil
}

// SummariseAndNotify reconciles current and publishes a composite alert when
// something was raised or fixed, or on the reminder day while issues persist.
func (s *Store) SummariseAndNotify(
	ctx context.Context,
	invocationID string,
	current []domain.Issue,
) (domain.Reconciliation, bool, error) {
	logger := zerolog.Ctx(ctx).With().Str("monitor", s.def.Type).Logger()
	logger.Info().Int("issues", len(current)).Msg("issues found")

	result, err := s.Reconcile(ctx, current)
	if err != nil {
		return domain.Reconciliation{}, false, err
	}

	reminder := s.clock.Now().Weekday() == s.reminderDay
	if !result.Changed() && !(reminder && len(result.Existing) > 0) {
		if len(result.Existing) == 0 {
			logger.Info().Msg("no issues to report at all")
		} else {
			logger.Info().Int("existing", len(result.Existing)).Msg("all issues previously reported")
		}
		return result, false, nil
	}

	logger.Info().
		Int("raised", len(result.Raised)).
		Int("existing", len(result.Existing)).
		Int("fixed", len(result.Fixed)).
		Msg("publishing issue summary")

	if err := s.notifier.Publish(ctx, s.message(result), s.Subject(), invocationID); err != nil {
		return result, false, fmt.Errorf("failed to notify %s issues: %w", s.def.Type, err)
	}
	return result, true, nil
}

func (s *Store) message(result domain.Reconciliation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s issues found.\n\n", s.def.Label)
	s.section(&b, "newly raised issues", result.Raised)
	s.section(&b, "previously raised issues", result.Existing)
	s.section(&b, "issues resolved", result.Fixed)
	return b.String()
}

func (s *Store) section(b *strings.Builder, heading string, issues []domain.Issue) {
	if len(issues) == 0 {
		fmt.Fprintf(b, "No %s.\n\n", heading)
		return
	}
	fmt.Fprintf(b, "%s:\n\n", heading)
	b.WriteString(strings.Join(s.def.Format(issues), "\n"))
	b.WriteString("\n\n")
}

// keyed returns a copy of issues with keys assigned and duplicates collapsed, first wins.
func (s *Store) keyed(issues []domain.Issue) ([]domain.Issue, error) {
	keyed := make([]domain.Issue, len(issues))
	copy(keyed, issues)
	s.def.AssignKeys(keyed)

	seen := make(map[string]struct{}, len(keyed))
	out := keyed[:0]
	for _, issue := range keyed {
		if issue.PK == "" {
			return nil, fmt.Errorf("%s issue has no key assigned", s.def.Type)
		}
		if _, dup := seen[issue.PK]; dup {
			continue
		}
		seen[issue.PK] = struct{}{}
		out = append(out, issue)
	}
	return out, nil
}

func (s *Store) previous(ctx context.Context) ([]domain.Issue, error) {
	records, err := s.table.Scan(ctx, s.prefix())
	if err != nil {
		return nil, fmt.Errorf("failed to load previous %s issues: %w", s.def.Type, err)
	}

	issues := make([]domain.Issue, 0, len(records))
	for _, record := range records {
		var issue domain.Issue
		if err := json.Unmarshal(record.Value, &issue); err != nil {
			return nil, fmt.Errorf("failed to decode stored issue %q: %w", record.Key, err)
		}
		issue.PK = strings.TrimPrefix(record.Key, s.prefix())
		issues = append(issues, issue)
	}
	return issues, nil
}

// IssueStore is the part of Store that jobs depend on.
type IssueStore interface {
	SummariseAndNotify(ctx context.Context, invocationID string, current []domain.Issue) (domain.Reconciliation, bool, error)
}

// Summarise flattens per-account issue lists and reconciles them in one pass.
func Summarise(store IssueStore) runner.Summariser[[]domain.Issue] {
	return func(ctx context.Context, invocationID string, results [][]domain.Issue) error {
		_, _, err := store.SummariseAndNotify(ctx, invocationID, slices.Concat(results...))
		return err
	}
}
