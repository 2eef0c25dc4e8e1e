package domain

import "strings"

// Topic roles. Each AI role is also the actor type subscribed to it.
const (
	TriageAgent    = "TriageAgent"
	TechnicalAgent = "TechnicalAgent"
	BillingAgent   = "BillingAgent"
	SalesAgent     = "SalesAgent"
	HumanAgent     = "HumanAgent"
	User           = "User"
)

// AIRoles lists the specialist roles in routing order.
var AIRoles = []string{TriageAgent, TechnicalAgent, BillingAgent, SalesAgent}

// IsAIRole reports whether role names an AI specialist.
func IsAIRole(role string) bool {
	for _, r := range AIRoles {
		if r == role {
			return true
		}
	}
	return false
}

// TopicID addresses one conversation (Source) of one role (Type).
type TopicID struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

func (t TopicID) String() string { return t.Type + "/" + t.Source }

// Task asks the receiving role to continue the conversation in Context.
type Task struct {
	Context MessageList `json:"context"`
}

// AgentResponse carries a finished turn back to the conversation's User topic.
type AgentResponse struct {
	Context          MessageList `json:"context"`
	ReplyToTopicType string      `json:"reply_to_topic_type"`
}

// Login is the first message a new customer conversation receives.
type Login struct {
	CustomerID string `json:"customer_id"`
}

// AgentIdentity describes one specialist persona.
type AgentIdentity struct {
	ID           string   `json:"id"            yaml:"id"`
	Name         string   `json:"name"          yaml:"name"`
	Description  string   `json:"description"   yaml:"description"`
	SystemPrompt string   `json:"system_prompt" yaml:"system_prompt"`
	Model        string   `json:"model"         yaml:"model"`
	Provider     string   `json:"provider"      yaml:"provider"`
	Tools        []string `json:"tools,omitempty"     yaml:"tools,omitempty"`
	Delegates    []string `json:"delegates,omitempty" yaml:"delegates,omitempty"`
	Expertise    []string `json:"expertise,omitempty" yaml:"expertise,omitempty"`
	MaxIter      int      `json:"max_iter,omitempty"  yaml:"max_iter,omitempty"`
}

// AgentStatus is a read-only snapshot of a specialist for status endpoints.
type AgentStatus struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Expertise []string `json:"expertise"`
}

// Display labels attached to outbound customer frames and logged turns.
const (
	LabelUser   = "user"
	LabelHuman  = "Human_Support"
	LabelSystem = "system"
	aiSuffix    = "_AI"
)

// DisplayLabel maps a raw author role to its customer-facing label.
func DisplayLabel(role string) string {
	if role == HumanAgent {
		return LabelHuman
	}
	return strings.TrimSuffix(role, "Agent") + aiSuffix
}

// IsAILabel reports whether label was produced for an AI role.
func IsAILabel(label string) bool {
	return strings.HasSuffix(label, aiSuffix)
}

// IsHumanLabel reports whether label marks a human operator turn.
func IsHumanLabel(label string) bool {
	return label == LabelHuman || label == "human"
}

// TeamName is the role name without its "Agent" suffix, e.g. "Technical".
func TeamName(role string) string {
	return strings.TrimSuffix(role, "Agent")
}
