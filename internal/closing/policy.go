package closing

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/currency"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-close/internal/accounting"
)

// Policy holds the chart-of-accounts conventions the closing steps rely on.
type Policy struct {
	RevenuePrefix   string                    `yaml:"revenue_prefix"`
	ExpensePrefix   string                    `yaml:"expense_prefix"`
	BalancePrefixes []string                  `yaml:"balance_prefixes"`
	ProfitLoss      accounting.ControlAccount `yaml:"profit_loss"`
	ClosingBalance  accounting.ControlAccount `yaml:"closing_balance"`
	OpeningBalance  accounting.ControlAccount `yaml:"opening_balance"`
	DocumentType    string                    `yaml:"document_type"`
	NumberPrefix    string                    `yaml:"number_prefix"`
	Currency        string                    `yaml:"currency"`
	Memos           map[StepType]string       `yaml:"memos"`
}

// DefaultPolicy follows the national chart of accounts: classes 0-4 balance sheet,
// 5 expenses, 6 revenue, 7 closing accounts.
func DefaultPolicy() Policy {
	return Policy{
		RevenuePrefix:   "6",
		ExpensePrefix:   "5",
		BalancePrefixes: []string{"0", "1", "2", "3", "4"},
		ProfitLoss:      accounting.ControlAccount{Code: "710", Name: "Profit and loss", Nature: accounting.AccountNaturePassive},
		ClosingBalance:  accounting.ControlAccount{Code: "702", Name: "Closing balance", Nature: accounting.AccountNaturePassive},
		OpeningBalance:  accounting.ControlAccount{Code: "701", Name: "Opening balance", Nature: accounting.AccountNatureActive},
		DocumentType:    "CLOSING",
		NumberPrefix:    "CLS",
		Currency:        "RSD",
		Memos: map[StepType]string{
			StepRevenueClose:    "Revenue close",
			StepExpenseClose:    "Expense close",
			StepProfitLossClose: "Profit and loss transfer",
			StepOpeningBalance:  "Opening balances",
		},
	}
}

// LoadPolicy overlays the YAML file at path onto DefaultPolicy. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("closing: read policy: %w", err)
	}
	if err := yaml.Unmarshal(raw, &policy); err != nil {
		return Policy{}, fmt.Errorf("closing: parse policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return Policy{}, err
	}
	return policy, nil
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.RevenuePrefix == "" || p.ExpensePrefix == "" || len(p.BalancePrefixes) == 0 {
		return errors.New("closing: policy class prefixes required")
	}
	for _, ctrl := range []accounting.ControlAccount{p.ProfitLoss, p.ClosingBalance, p.OpeningBalance} {
		if strings.TrimSpace(ctrl.Code) == "" {
			return errors.New("closing: policy control account code required")
		}
		if ctrl.Nature != "" && ctrl.Nature != accounting.AccountNatureActive && ctrl.Nature != accounting.AccountNaturePassive {
			return fmt.Errorf("closing: policy control account %s has invalid nature %q", ctrl.Code, ctrl.Nature)
		}
	}
	if strings.TrimSpace(p.DocumentType) == "" {
		return errors.New("closing: policy document type required")
	}
	if _, err := currency.ParseISO(p.Currency); err != nil {
		return fmt.Errorf("closing: policy currency %q: %w", p.Currency, err)
	}
	return nil
}

// Memo returns the journal description for step.
func (p Policy) Memo(step StepType) string {
	if memo, ok := p.Memos[step]; ok && memo != "" {
		return memo
	}
	return string(step)
}
