package approval

import (
	"strings"

	"github.com/angelmondragon/pos-register/pkg/enums"
)

// CompanyFlags exposes the per-company approval switch published by the ledger.
type CompanyFlags interface {
	RequiresApprovalForSales(companyKey string) bool
}

// Policy decides which operations need a manager. Credit sales, cross-company
// invoices, returns and requeues always do; plain sales only when the company
// asks for it.
type Policy struct {
	flags CompanyFlags
	forced map[string]struct{}
}

// NewPolicy builds a policy. forcedSales lists companies whose every sale
// needs approval regardless of the ledger flag.
func NewPolicy(flags CompanyFlags, forcedSales []string) *Policy {
	forced := make(map[string]struct{}, len(forcedSales))
	for _, key := range forcedSales {
		key = strings.TrimSpace(key)
		if key != "" {
			forced[key] = struct{}{}
		}
	}
	return &Policy{flags: flags, forced: forced}
}

func (p *Policy) Requires(companyKey string, op enums.ApprovalOperation) bool {
	switch op {
	case enums.ApprovalCreditSale, enums.ApprovalCrossCompany, enums.ApprovalReturn, enums.ApprovalRequeue:
		return true
	case enums.ApprovalSale:
		if _, ok := p.forced[companyKey]; ok {
			return true
		}
		return p.flags != nil && p.flags.RequiresApprovalForSales(companyKey)
	default:
		return false
	}
}
