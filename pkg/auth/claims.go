package auth

import (
	"github.com/angelmondragon/pos-register/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// ApprovalPayload captures the data available when minting an approval token.
type ApprovalPayload struct {
	CompanyKey string
	ManagerID  string
	RegisterID string
	// Offline is set when the PIN was checked against the local hash.
	Offline    bool
	Operations []enums.ApprovalOperation
	JTI        string
}

// ApprovalClaims is the signed record of a manager approval. It travels in
// sale payloads so the ledger can audit who authorized the sale.
type ApprovalClaims struct {
	CompanyKey string                    `json:"company_key"`
	ManagerID  string                    `json:"manager_id"`
	RegisterID string                    `json:"register_id,omitempty"`
	Offline    bool                      `json:"offline,omitempty"`
	Operations []enums.ApprovalOperation `json:"ops,omitempty"`
	jwt.RegisteredClaims
}

// Permits reports whether the approval covers op. A grant that names no
// operations covers every operation for its company.
func (c *ApprovalClaims) Permits(op enums.ApprovalOperation) bool {
	if c == nil {
		return false
	}
	if len(c.Operations) == 0 {
		return true
	}
	for _, granted := range c.Operations {
		if granted == op {
			return true
		}
	}
	return false
}
