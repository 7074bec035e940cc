package config

import (
	"fmt"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"gopkg.in/ini.v1"
)

// LoadAccounts returns the ordered account set: the accounts file when one is
// configured, otherwise the CHILD_ACCOUNTS list.
func LoadAccounts(settings Settings) ([]domain.Account, error) {
	if settings.AccountsFile != "" {
		return LoadAccountsFile(settings.AccountsFile)
	}

	accounts := make([]domain.Account, 0, len(settings.ChildAccounts))
	seen := make(map[string]struct{}, len(settings.ChildAccounts))
	for _, id := range settings.ChildAccounts {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		accounts = append(accounts, domain.Account{ID: id})
	}
	return accounts, nil
}

// LoadAccountsFile reads one section per account id, in file order:
//
//	[111111111111]
//	name = production
func LoadAccountsFile(path string) ([]domain.Account, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts file %s: %w", path, err)
	}

	var accounts []domain.Account
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		accounts = append(accounts, domain.Account{
			ID:   section.Name(),
			Name: section.Key("name").String(),
		})
	}
	return accounts, nil
}
