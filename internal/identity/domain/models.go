package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Identity is the credential record behind a member.
type Identity struct {
	ID              string     `gorm:"primaryKey;size:64"`
	Email           string     `gorm:"size:320;not null;uniqueIndex"`
	PasswordHash    string     `gorm:"type:text;not null"`
	EmailVerifiedAt *time.Time `gorm:"column:email_verified_at"`
	CreatedAt       time.Time  `gorm:"not null"`
	UpdatedAt       time.Time  `gorm:"not null"`
}

func (Identity) TableName() string { return "identities" }

// VerificationToken is a single-use email verification secret. Only its
// hash is stored.
type VerificationToken struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	IdentityID string       `gorm:"size:64;not null;index"`
	TokenHash  string       `gorm:"size:64;not null;uniqueIndex"`
	ExpiresAt  time.Time    `gorm:"not null"`
	ConsumedAt *time.Time
	CreatedAt  time.Time `gorm:"not null"`
}

func (VerificationToken) TableName() string { return "verification_tokens" }
