package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderNotification(t *testing.T) {
	body, err := Render("notification", map[string]any{
		"subject":    "Your security deposit was released",
		"booking_id": "1234",
		"data":       map[string]any{"amount_cents": 20000},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Your security deposit was released")
	assert.Contains(t, body, "1234")
	assert.Contains(t, body, "amount_cents")

	_, err = Render("missing", nil)
	assert.Error(t, err)
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("no-reply@stayledger.local", []string{"a@example.com", "b@example.com"}, "Hi", "<p>x</p>"))
	assert.True(t, strings.HasPrefix(msg, "From: no-reply@stayledger.local\r\n"))
	assert.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, msg, "Subject: Hi\r\n")
	assert.True(t, strings.HasSuffix(msg, "<p>x</p>"))
}
