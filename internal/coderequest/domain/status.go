package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the closed set of code request states.
type Status string

const (
	StatusPendingReceipt           Status = "pending_receipt"
	StatusWaitingForCodeGeneration Status = "waiting_for_code_generation"
	StatusCodeGenerated            Status = "code_generated"
	StatusMemberRegistered         Status = "member_registered"
	StatusRejected                 Status = "rejected"
	StatusCancelled                Status = "cancelled"
)

// legacy spellings found in older records.
var aliases = map[string]Status{
	"pending receipt":     StatusPendingReceipt,
	"waiting for payment": StatusPendingReceipt,
	"waiting_for_payment": StatusPendingReceipt,
}

// ParseStatus maps a stored or submitted label to a Status. Labels outside
// the closed set are rejected.
func ParseStatus(raw string) (Status, error) {
	value := strings.ToLower(strings.TrimSpace(raw))
	switch s := Status(value); s {
	case StatusPendingReceipt, StatusWaitingForCodeGeneration, StatusCodeGenerated,
		StatusMemberRegistered, StatusRejected, StatusCancelled:
		return s, nil
	}
	if s, ok := aliases[value]; ok {
		return s, nil
	}
	return "", ErrInvalidStatus
}

// StoredLabels returns every label a row in this state may carry, the
// canonical one first. Filters and guarded updates match on all of them.
func (s Status) StoredLabels() []string {
	labels := []string{string(s)}
	for legacy, canonical := range aliases {
		if canonical == s {
			labels = append(labels, legacy)
		}
	}
	return labels
}

// LegacyAliases returns a copy of the legacy label to Status mapping.
func LegacyAliases() map[string]Status {
	out := make(map[string]Status, len(aliases))
	for k, v := range aliases {
		out[k] = v
	}
	return out
}

// Abandonable reports whether a request may still be rejected or cancelled.
func (s Status) Abandonable() bool {
	return s == StatusPendingReceipt || s == StatusWaitingForCodeGeneration
}

func (s Status) Terminal() bool {
	return s == StatusMemberRegistered || s == StatusRejected || s == StatusCancelled
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// Scan normalizes legacy labels on read.
func (s *Status) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("coderequest: cannot scan %T into Status", value)
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return fmt.Errorf("coderequest: stored status %q: %w", raw, err)
	}
	*s = parsed
	return nil
}

func (s Status) Value() (driver.Value, error) {
	return string(s), nil
}
