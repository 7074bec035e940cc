package usage

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/de-tools/account-monitor/pkg/models/domain"
)

// Report is everything found in one lookback window across all accounts.
type Report struct {
	Days    int
	Entries []domain.UsageEntry
	Errors  []domain.UsageSource
	IPs     map[string]domain.IPInfo
}

func (r Report) header() string {
	return fmt.Sprintf("Usage info for the past %d days:\n\n", r.Days)
}

func (r Report) ip(addr string) domain.IPInfo {
	if info, ok := r.IPs[addr]; ok {
		return info
	}
	return domain.IPInfo{IP: addr, Risk: domain.RiskUnknown, ShortDescription: "no lookup"}
}

func resourceKey(e domain.UsageEntry) string {
	return e.AccountID + "/" + e.StackName + "/" + e.Resource
}

// Detailed renders one line per query result row.
func (r Report) Detailed() string {
	var b strings.Builder
	b.WriteString(r.header())
	for _, e := range r.Entries {
		info := r.ip(e.SourceIP)
		if e.Status != "" {
			fmt.Fprintf(&b, "%s %s (%d): HTTP %s, %s [%s: %s]\n",
				resourceKey(e), e.Date, e.Count, e.Status, e.SourceIP, info.Risk, info.Description)
		} else {
			fmt.Fprintf(&b, "%s %s (%d): %s %s, %s [%s: %s]\n",
				resourceKey(e), e.Date, e.Count, e.Method, e.Path, e.SourceIP, info.Risk, info.Description)
		}
	}
	r.writeErrors(&b)
	return b.String()
}

// Aggregated renders request counts per source address for each resource, busiest first.
func (r Report) Aggregated() string {
	counts := make(map[string]map[string]int64)
	for _, e := range r.Entries {
		key := resourceKey(e)
		if counts[key] == nil {
			counts[key] = make(map[string]int64)
		}
		counts[key][e.SourceIP] += e.Count
	}

	var b strings.Builder
	b.WriteString(r.header())
	if len(counts) == 0 {
		b.WriteString("No usage found.\n")
	}
	for _, key := range slices.Sorted(maps.Keys(counts)) {
		byIP := counts[key]
		ips := slices.SortedFunc(maps.Keys(byIP), func(a, b string) int {
			if c := cmp.Compare(byIP[b], byIP[a]); c != 0 {
				return c
			}
			return cmp.Compare(a, b)
		})

		fmt.Fprintf(&b, "%s:\n", key)
		for _, addr := range ips {
			info := r.ip(addr)
			fmt.Fprintf(&b, "  %d %s %s: %s\n", byIP[addr], addr, info.Risk, info.ShortDescription)
		}
		b.WriteString("\n")
	}
	r.writeErrors(&b)
	return b.String()
}

func (r Report) writeErrors(b *strings.Builder) {
	if len(r.Errors) == 0 {
		return
	}
	b.WriteString("\nerrors:\n")
	for _, s := range r.Errors {
		fmt.Fprintf(b, "  %s/%s/%s: unsupported source type %q (%s)\n", s.AccountID, s.StackName, s.Name, s.Type, s.Source)
	}
}

func uniqueIPs(entries []domain.UsageEntry) []string {
	ips := make([]string, 0, len(entries))
	for _, e := range entries {
		ips = append(ips, e.SourceIP)
	}
	slices.Sort(ips)
	return slices.Compact(ips)
}
