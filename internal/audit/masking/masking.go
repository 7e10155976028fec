package masking

import "strings"

const maskToken = "****"

// MaskCode redacts an activation code, keeping its role prefix and the
// last four characters so operators can still correlate entries.
func MaskCode(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}
	return prefix + maskToken + remainder[len(remainder)-4:]
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at <= 0 {
		return maskToken
	}
	return value[:1] + maskToken + value[at:]
}

// splitPrefix separates the "VX-VIP-" style head of a code from its body.
func splitPrefix(value string) (string, string) {
	parts := strings.Split(value, "-")
	if len(parts) < 3 {
		return "", value
	}
	head := parts[0] + "-" + parts[1] + "-"
	return head, strings.Join(parts[2:], "")
}
