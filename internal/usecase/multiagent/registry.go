package multiagent

import (
	"log/slog"
	"sort"
	"sync"

	"supportmesh/internal/domain"
)

// Tool and delegation names the built-in personas are wired to. They match
// the names registered by the tool adapter.
const (
	toolLookupAccount = "lookup_account_info"
	toolCreateTicket  = "create_support_ticket"
	toolCheckStatus   = "check_system_status"

	delegateTechnical = "transfer_to_technical"
	delegateBilling   = "transfer_to_billing"
	delegateSales     = "transfer_to_sales"
	delegateTriage    = "transfer_back_to_triage"
	delegateHuman     = "escalate_to_human"
)

// DefaultPersonas returns the built-in specialist personas in routing order.
func DefaultPersonas() []domain.AgentIdentity {
	return []domain.AgentIdentity{
		{
			ID:          domain.TriageAgent,
			Name:        "Customer Service Triage",
			Description: "A customer service triage agent that routes customer requests to appropriate specialists.",
			SystemPrompt: "You are a customer service triage agent. You handle initial customer requests and conversations transferred back from human agents. " +
				"For new customers: Greet them briefly and professionally. " +
				"For all requests: Listen carefully and route to the appropriate department: " +
				"- Technical issues → technical support " +
				"- Billing/payment issues → billing support " +
				"- Sales inquiries → sales team " +
				"- Complex issues → human agent " +
				"When receiving transfers from human agents, acknowledge the handoff and continue assisting. " +
				"Ask clarifying questions only if needed to properly route the request.",
			Tools:     []string{toolLookupAccount},
			Delegates: []string{delegateTechnical, delegateBilling, delegateSales, delegateHuman},
			Expertise: []string{"Request routing", "Initial assessment", "Customer triage"},
		},
		{
			ID:          domain.TechnicalAgent,
			Name:        "Technical Support",
			Description: "A technical support specialist for hardware and software issues.",
			SystemPrompt: "You are a technical support specialist. Help customers with hardware, software, network, and system issues. " +
				"Provide clear step-by-step solutions. Create support tickets for complex issues. " +
				"If the issue is outside technical scope or customer requests human help, transfer appropriately.",
			Tools:     []string{toolCreateTicket, toolCheckStatus},
			Delegates: []string{delegateTriage, delegateHuman},
			Expertise: []string{"Hardware troubleshooting", "Software issues", "System configuration"},
		},
		{
			ID:          domain.BillingAgent,
			Name:        "Billing Support",
			Description: "A billing support specialist for payment and subscription issues.",
			SystemPrompt: "You are a billing support specialist. Help customers with payments, subscriptions, refunds, and billing questions. " +
				"For account-specific information, recommend human verification for security. " +
				"Provide general billing guidance and policies. Create tickets for complex billing issues.",
			Tools:     []string{toolLookupAccount, toolCreateTicket},
			Delegates: []string{delegateTriage, delegateHuman},
			Expertise: []string{"Payment processing", "Subscription management", "Billing inquiries"},
		},
		{
			ID:          domain.SalesAgent,
			Name:        "Sales Support",
			Description: "A sales support specialist for product information and purchasing.",
			SystemPrompt: "You are a sales support specialist. Help customers with product information, features, pricing, and purchasing decisions. " +
				"Be helpful and informative without being pushy. " +
				"For complex sales inquiries, you can escalate to human sales representatives.",
			Tools:     []string{toolLookupAccount},
			Delegates: []string{delegateTriage, delegateHuman},
			Expertise: []string{"Product information", "Sales inquiries", "Purchase assistance"},
		},
	}
}

// Override replaces the non-empty fields of a registered persona.
type Override struct {
	ID           string
	SystemPrompt string
	Model        string
	Provider     string
	MaxIter      int
}

// Registry holds the specialist personas and provides lookup.
type Registry struct {
	mu       sync.RWMutex
	personas map[string]domain.AgentIdentity
	logger   *slog.Logger
}

// NewRegistry creates an empty persona registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		personas: make(map[string]domain.AgentIdentity),
		logger:   logger,
	}
}

// NewDefaultRegistry creates a registry holding DefaultPersonas.
func NewDefaultRegistry(logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	for _, p := range DefaultPersonas() {
		// IDs are unique by construction.
		_ = r.Register(p)
	}
	return r
}

// Register adds a persona. Returns ErrDuplicate if already registered.
func (r *Registry) Register(identity domain.AgentIdentity) error {
	if identity.ID == "" {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, "persona id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.personas[identity.ID]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, identity.ID)
	}
	r.personas[identity.ID] = identity
	r.logger.Debug("persona registered", "agent_id", identity.ID, "name", identity.Name)
	return nil
}

// Get returns the persona for the given ID, or ErrNotFound.
func (r *Registry) Get(id string) (domain.AgentIdentity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.personas[id]
	if !ok {
		return domain.AgentIdentity{}, domain.NewDomainError("Registry.Get", domain.ErrNotFound, id)
	}
	return p, nil
}

// Apply merges o into the persona it names.
func (r *Registry) Apply(o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.personas[o.ID]
	if !ok {
		return domain.NewDomainError("Registry.Apply", domain.ErrNotFound, o.ID)
	}
	if o.SystemPrompt != "" {
		p.SystemPrompt = o.SystemPrompt
	}
	if o.Model != "" {
		p.Model = o.Model
	}
	if o.Provider != "" {
		p.Provider = o.Provider
	}
	if o.MaxIter > 0 {
		p.MaxIter = o.MaxIter
	}
	r.personas[o.ID] = p
	r.logger.Info("persona overridden", "agent_id", o.ID)
	return nil
}

// IDs returns the registered persona IDs in routing order, unknown roles last.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.personas))
	for id := range r.personas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ri, rj := routingRank(ids[i]), routingRank(ids[j])
		if ri != rj {
			return ri < rj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// List returns a status snapshot for every registered persona in routing order.
func (r *Registry) List() []domain.AgentStatus {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()
	statuses := make([]domain.AgentStatus, 0, len(ids))
	for _, id := range ids {
		p := r.personas[id]
		statuses = append(statuses, domain.AgentStatus{
			ID:        p.ID,
			Name:      p.Name,
			Status:    "active",
			Expertise: append([]string(nil), p.Expertise...),
		})
	}
	return statuses
}

func routingRank(id string) int {
	for i, role := range domain.AIRoles {
		if role == id {
			return i
		}
	}
	return len(domain.AIRoles)
}
