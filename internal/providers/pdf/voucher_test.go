package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoucherRendersPDF(t *testing.T) {
	doc, err := New().Voucher(context.Background(), VoucherData{
		Code:        "VX-VIP-7KQ2-M9PX",
		Role:        "vip",
		Price:       1000,
		InviterName: "Maya",
		InviteeName: "Nadia",
		IssuedAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		RedeemURL:   "https://app.vervex.test/register?code=VX-VIP-7KQ2-M9PX",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(doc, []byte("%PDF")))
}

func TestVoucherRequiresCode(t *testing.T) {
	_, err := New().Voucher(context.Background(), VoucherData{Role: "vip"})
	assert.ErrorIs(t, err, ErrMissingCode)
}

func TestFormatMoney(t *testing.T) {
	cases := map[int64]string{
		0:       "0",
		999:     "999",
		1000:    "1,000",
		15000:   "15,000",
		1234567: "1,234,567",
		-4000:   "-4,000",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatMoney(in))
	}
}
