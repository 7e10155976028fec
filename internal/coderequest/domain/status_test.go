package domain

import (
	"encoding/json"
	"testing"

	"github.com/smallbiznis/vervex/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatusAliases(t *testing.T) {
	cases := map[string]Status{
		"pending_receipt":             StatusPendingReceipt,
		"pending receipt":             StatusPendingReceipt,
		"waiting for payment":         StatusPendingReceipt,
		"Waiting_For_Payment":         StatusPendingReceipt,
		"waiting_for_code_generation": StatusWaitingForCodeGeneration,
		" code_generated ":            StatusCodeGenerated,
		"member_registered":           StatusMemberRegistered,
		"rejected":                    StatusRejected,
		"cancelled":                   StatusCancelled,
	}
	for in, want := range cases {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseStatusRejectsTypos(t *testing.T) {
	for _, in := range []string{"", "pending", "waiting for paymnet", "canceled", "registered"} {
		_, err := ParseStatus(in)
		assert.ErrorIs(t, err, ErrInvalidStatus, in)
		assert.ErrorIs(t, err, errs.ErrInvalidArgument, in)
	}
}

func TestStatusJSONBoundary(t *testing.T) {
	var payload struct {
		Status Status `json:"status"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"status":"waiting for payment"}`), &payload))
	assert.Equal(t, StatusPendingReceipt, payload.Status)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"paid"}`), &payload))

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"pending_receipt"}`, string(out))
}

func TestStatusScanNormalizesLegacyRows(t *testing.T) {
	var s Status
	require.NoError(t, s.Scan([]byte("pending receipt")))
	assert.Equal(t, StatusPendingReceipt, s)
	assert.Error(t, s.Scan("bogus"))
	assert.Error(t, s.Scan(42))
}

func TestAbandonable(t *testing.T) {
	assert.True(t, StatusPendingReceipt.Abandonable())
	assert.True(t, StatusWaitingForCodeGeneration.Abandonable())
	assert.False(t, StatusCodeGenerated.Abandonable())
	assert.False(t, StatusMemberRegistered.Abandonable())
	assert.True(t, StatusCancelled.Terminal())
}

func TestStoredLabelsIncludeLegacySpellings(t *testing.T) {
	labels := StatusPendingReceipt.StoredLabels()
	assert.Equal(t, "pending_receipt", labels[0])
	assert.ElementsMatch(t, []string{"pending_receipt", "pending receipt", "waiting for payment", "waiting_for_payment"}, labels)

	assert.Equal(t, []string{"code_generated"}, StatusCodeGenerated.StoredLabels())
}
