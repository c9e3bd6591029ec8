package pdf

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDepositStatement(t *testing.T) {
	reader, err := New().GenerateDepositStatement(context.Background(), StatementData{
		DepositID:     "1",
		Status:        "PARTIALLY_CAPTURED",
		Authorized:    "200.00 EUR",
		Captured:      "50.00 EUR",
		Released:      "150.00 EUR",
		CaptureReason: "broken lamp",
		Evidence:      []string{"https://example.com/lamp.jpg"},
		Events:        []StatementEvent{{At: "2026-07-10", Description: "Hold authorized"}},
	})
	require.NoError(t, err)

	raw, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(raw) > 4)
	assert.Equal(t, "%PDF", string(raw[:4]))
}
