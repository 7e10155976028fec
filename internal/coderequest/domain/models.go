package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/vervex/internal/pricing"
	"github.com/smallbiznis/vervex/internal/role"
)

// InviteData is the referred person's profile captured with the request.
type InviteData struct {
	Name    string `gorm:"type:text;not null" json:"name"`
	Email   string `gorm:"type:text;not null" json:"email"`
	Phone   string `gorm:"type:text;not null" json:"phone"`
	Address string `gorm:"type:text" json:"address,omitempty"`
}

// CodeRequest tracks one prospective member from payment to activation.
// Price is fixed at creation; GeneratedCode never changes once set.
type CodeRequest struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	InviterID          snowflake.ID  `gorm:"not null;index" json:"inviter_id"`
	Role               role.Role     `gorm:"type:text;not null" json:"role"`
	Price              pricing.Money `gorm:"not null" json:"price"`
	Invite             InviteData    `gorm:"embedded;embeddedPrefix:invite_" json:"invite_data"`
	ReceiptURL         *string       `gorm:"type:text" json:"receipt_url,omitempty"`
	GeneratedCode      *string       `gorm:"size:64;uniqueIndex" json:"generated_code,omitempty"`
	GeneratedBy        *snowflake.ID `json:"generated_by,omitempty"`
	Status             Status        `gorm:"size:64;not null;index" json:"status"`
	RejectionReason    *string       `gorm:"type:text" json:"rejection_reason,omitempty"`
	RegisteredMemberID *snowflake.ID `json:"registered_member_id,omitempty"`
	CreatedAt          time.Time     `gorm:"not null;index" json:"created_at"`
	ReceiptAttachedAt  *time.Time    `json:"receipt_attached_at,omitempty"`
	CodeGeneratedAt    *time.Time    `json:"code_generated_at,omitempty"`
	RegisteredAt       *time.Time    `json:"registered_at,omitempty"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
	UpdatedAt          time.Time     `gorm:"not null" json:"updated_at"`
}

func (CodeRequest) TableName() string { return "code_requests" }

func (c CodeRequest) Code() string {
	if c.GeneratedCode == nil {
		return ""
	}
	return *c.GeneratedCode
}
