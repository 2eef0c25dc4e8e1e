package multiagent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supportmesh/internal/domain"
)

func TestDefaultPersonas(t *testing.T) {
	personas := DefaultPersonas()
	require.Len(t, personas, len(domain.AIRoles))

	for i, p := range personas {
		assert.Equal(t, domain.AIRoles[i], p.ID)
		assert.NotEmpty(t, p.SystemPrompt, p.ID)
		assert.Contains(t, p.Delegates, delegateHuman, "%s can always escalate", p.ID)
		assert.Len(t, p.Expertise, 3)
	}
	assert.NotContains(t, personas[0].Delegates, delegateTriage, "triage does not hand back to itself")
	assert.Contains(t, personas[1].Delegates, delegateTriage)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(discardLogger())

	require.NoError(t, reg.Register(domain.AgentIdentity{ID: "Alpha", Name: "alpha"}))
	err := reg.Register(domain.AgentIdentity{ID: "Alpha"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	err = reg.Register(domain.AgentIdentity{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	got, err := reg.Get("Alpha")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.Name)

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_Apply(t *testing.T) {
	reg := NewDefaultRegistry(discardLogger())
	before, err := reg.Get(domain.BillingAgent)
	require.NoError(t, err)

	require.NoError(t, reg.Apply(Override{ID: domain.BillingAgent, Model: "gpt-4o", MaxIter: 4}))

	after, err := reg.Get(domain.BillingAgent)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", after.Model)
	assert.Equal(t, 4, after.MaxIter)
	assert.Equal(t, before.SystemPrompt, after.SystemPrompt, "empty fields keep their value")

	assert.ErrorIs(t, reg.Apply(Override{ID: "Nope"}), domain.ErrNotFound)
}

func TestRegistry_ListInRoutingOrder(t *testing.T) {
	reg := NewDefaultRegistry(discardLogger())
	require.NoError(t, reg.Register(domain.AgentIdentity{ID: "AaaCustom"}))

	assert.Equal(t, append(append([]string(nil), domain.AIRoles...), "AaaCustom"), reg.IDs())

	list := reg.List()
	require.Len(t, list, 5)
	assert.Equal(t, domain.TriageAgent, list[0].ID)
	assert.Equal(t, "Customer Service Triage", list[0].Name)
	for _, s := range list {
		assert.Equal(t, "active", s.Status)
	}

	list[0].Expertise[0] = "mutated"
	p, _ := reg.Get(domain.TriageAgent)
	assert.Equal(t, "Request routing", p.Expertise[0])
}
