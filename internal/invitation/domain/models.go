package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
)

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusAccepted:
		return StatusAccepted, nil
	case StatusDeclined:
		return StatusDeclined, nil
	default:
		return "", ErrInvalidStatus
	}
}

// Invitation is an email-link invite from an existing member. Accepted and
// declined invitations are never changed again.
type Invitation struct {
	ID           snowflake.ID  `gorm:"primaryKey" json:"id"`
	ReferrerID   snowflake.ID  `gorm:"not null;index" json:"referrer_id"`
	InvitedEmail string        `gorm:"size:320;not null;index" json:"invited_email"`
	InvitedName  string        `gorm:"type:text;not null" json:"invited_name"`
	TokenHash    string        `gorm:"size:64;not null;uniqueIndex" json:"-"`
	Status       Status        `gorm:"size:64;not null;index" json:"status"`
	MemberID     *snowflake.ID `json:"member_id,omitempty"`
	ExpiresAt    time.Time     `gorm:"not null" json:"expires_at"`
	RespondedAt  *time.Time    `json:"responded_at,omitempty"`
	CreatedAt    time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time     `gorm:"not null" json:"updated_at"`
}

func (Invitation) TableName() string { return "invitations" }

func (i Invitation) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
