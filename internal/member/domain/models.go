package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusActive:
		return StatusActive, nil
	case StatusInactive:
		return StatusInactive, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Member is a registered participant of the referral hierarchy.
type Member struct {
	ID                   snowflake.ID  `gorm:"primaryKey" json:"id"`
	IdentityID           string        `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Email                string        `gorm:"size:320;not null;uniqueIndex" json:"email"`
	DisplayName          string        `gorm:"type:text;not null" json:"display_name"`
	Phone                string        `gorm:"type:text" json:"phone,omitempty"`
	Address              string        `gorm:"type:text" json:"address,omitempty"`
	Role                 role.Role     `gorm:"size:64;not null;index" json:"role"`
	ReferrerID           *snowflake.ID `gorm:"index" json:"referrer_id,omitempty"`
	ReferralCode         string        `gorm:"size:64;not null;uniqueIndex" json:"referral_code"`
	Balance              pricing.Money `gorm:"not null;default:0" json:"balance"`
	DirectInviteEarnings pricing.Money `gorm:"not null;default:0" json:"direct_invite_earnings"`
	DirectInviteCount    int64         `gorm:"not null;default:0" json:"direct_invite_count"`
	Status               Status        `gorm:"type:text;not null;default:'active'" json:"status"`
	EmailVerifiedAt      *time.Time    `json:"email_verified_at,omitempty"`
	CreatedAt            time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time     `gorm:"not null" json:"updated_at"`
}

func (Member) TableName() string { return "members" }

func (m Member) Active() bool { return m.Status == StatusActive }

func (m Member) EmailVerified() bool { return m.EmailVerifiedAt != nil }
