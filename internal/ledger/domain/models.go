package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
)

// TransactionType is the closed set of balance-affecting events.
type TransactionType string

const (
	TypeDirectInviteEarning TransactionType = "direct_invite_earning"
)

func (t TransactionType) Valid() bool {
	return t == TypeDirectInviteEarning
}

// Transaction is an immutable ledger entry. A code request can settle at
// most once per type, which the (type, code_request_id) index enforces.
type Transaction struct {
	ID            snowflake.ID    `gorm:"primaryKey" json:"id"`
	Type          TransactionType `gorm:"size:64;not null;uniqueIndex:ux_transactions_type_source,priority:1" json:"type"`
	Amount        pricing.Money   `gorm:"not null" json:"amount"`
	UserID        snowflake.ID    `gorm:"not null;index" json:"user_id"`
	InvitedUserID snowflake.ID    `gorm:"not null" json:"invited_user_id"`
	Role          role.Role       `gorm:"type:text;not null" json:"role"`
	CodeRequestID *snowflake.ID   `gorm:"uniqueIndex:ux_transactions_type_source,priority:2" json:"code_request_id,omitempty"`
	CreatedAt     time.Time       `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string { return "transactions" }
