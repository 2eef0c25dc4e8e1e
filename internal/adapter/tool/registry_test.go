package tool

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(nopLogger())
	require.NoError(t, reg.Register(NewCheckStatusTool(nopLogger())))

	got, err := reg.Get(CheckStatusName)
	require.NoError(t, err)
	assert.Equal(t, CheckStatusName, got.Name())

	_, err = reg.Get("nope")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	err = reg.Register(NewCheckStatusTool(nopLogger()))
	assert.ErrorIs(t, err, domain.ErrDuplicate)
}

func TestRegistry_WrapsWithValidation(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{name: "validated", schema: json.RawMessage(queryRequired), result: TextResult("executed")}
	require.NoError(t, reg.Register(inner))

	got, err := reg.Get("validated")
	require.NoError(t, err)

	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Zero(t, inner.calls)
}

func TestRegistry_BadSchemaFallsBackUnwrapped(t *testing.T) {
	reg := NewRegistry(nopLogger())
	inner := &stubTool{name: "bad_schema", schema: json.RawMessage(`{"type": "invalid_type"}`), result: TextResult("fallback ok")}
	require.NoError(t, reg.Register(inner))

	got, err := reg.Get("bad_schema")
	require.NoError(t, err)
	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback ok", res.Content)
}

func TestRegistry_NilLoggerSkipsValidation(t *testing.T) {
	reg := NewRegistry(nil)
	inner := &stubTool{name: "unwrapped", schema: json.RawMessage(queryRequired), result: TextResult("no validation")}
	require.NoError(t, reg.Register(inner))

	got, err := reg.Get("unwrapped")
	require.NoError(t, err)
	res, err := got.Execute(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "no validation", res.Content)
}

func TestRegistry_ScopeAndSchemas(t *testing.T) {
	actions, delegates, err := NewCatalogs(nopLogger())
	require.NoError(t, err)

	assert.Equal(t, []string{CheckStatusName, CreateTicketName, LookupAccountName}, actions.Names())

	scoped, err := delegates.Scope(TransferToTriageName, EscalateToHumanName)
	require.NoError(t, err)
	schemas := scoped.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, EscalateToHumanName, schemas[0].Name)
	assert.Equal(t, TransferToTriageName, schemas[1].Name)

	_, err = scoped.Get(TransferToSalesName)
	assert.ErrorIs(t, err, domain.ErrToolNotFound)

	_, err = delegates.Scope("transfer_to_nowhere")
	assert.ErrorIs(t, err, domain.ErrToolNotFound)
}

func TestDelegationToolsReturnTargets(t *testing.T) {
	want := map[string]string{
		TransferToTechnicalName: domain.TechnicalAgent,
		TransferToBillingName:   domain.BillingAgent,
		TransferToSalesName:     domain.SalesAgent,
		TransferToTriageName:    domain.TriageAgent,
		EscalateToHumanName:     domain.HumanAgent,
	}
	_, delegates, err := NewCatalogs(nopLogger())
	require.NoError(t, err)

	for name, target := range want {
		d, err := delegates.Get(name)
		require.NoError(t, err, name)
		res, err := d.Execute(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, target, res.Content, name)
		assert.NotEmpty(t, d.Description())
	}
}
