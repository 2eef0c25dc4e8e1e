package tool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupAccount(t *testing.T) {
	tl := NewLookupAccountTool(nopLogger())
	res, err := tl.Execute(context.Background(), json.RawMessage(`{"customer_query":"current plan"}`))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Account info retrieved for query: current plan", res.Content)

	res, err = tl.Execute(context.Background(), json.RawMessage(`{"customer_query":"  "}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "customer_query")
}

func TestCreateTicket(t *testing.T) {
	tl := NewCreateTicketTool(nopLogger())
	tl.now = func() time.Time { return time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC) }

	res, err := tl.Execute(context.Background(), json.RawMessage(`{"issue_description":"router reboots nightly"}`))
	require.NoError(t, err)
	require.False(t, res.IsError, res.Content)
	assert.True(t, strings.HasPrefix(res.Content, "Support ticket created: TICKET-20250309-"), res.Content)
	assert.True(t, strings.HasSuffix(res.Content, "(Priority: medium)"), res.Content)

	again, err := tl.Execute(context.Background(), json.RawMessage(`{"issue_description":"router reboots nightly","priority":"high"}`))
	require.NoError(t, err)
	assert.Equal(t,
		strings.TrimSuffix(res.Content, "(Priority: medium)"),
		strings.TrimSuffix(again.Content, "(Priority: high)"),
		"same description on the same day yields the same ticket id")
}

func TestCreateTicket_Invalid(t *testing.T) {
	tl := NewCreateTicketTool(nopLogger())
	for _, params := range []string{`{}`, `{"issue_description":42}`, `{"issue_description":"` + strings.Repeat("x", maxIssueLength+1) + `"}`} {
		res, err := tl.Execute(context.Background(), json.RawMessage(params))
		require.NoError(t, err)
		assert.True(t, res.IsError, params)
	}
}

func TestTicketIDFormat(t *testing.T) {
	id := ticketID(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC), "anything")
	assert.Regexp(t, `^TICKET-20241231-\d{4}$`, id)
}

func TestCheckStatus(t *testing.T) {
	tl := NewCheckStatusTool(nopLogger())
	res, err := tl.Execute(context.Background(), json.RawMessage(`{"service_name":"email"}`))
	require.NoError(t, err)
	assert.Equal(t, "System status for email: All services operational", res.Content)
}
