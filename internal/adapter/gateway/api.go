package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode"

	"supportmesh/internal/domain"
	"supportmesh/internal/usecase/multiagent"
)

// LoginResponse is the JSON body returned by POST /api/agent/login.
type LoginResponse struct {
	Success  bool   `json:"success"`
	AgentID  string `json:"agent_id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

// StatusResponse is the JSON body returned by GET /api/system/status.
type StatusResponse struct {
	AIAgents          map[string]AIAgentStatus `json:"ai_agents"`
	HumanAgents       HumanPoolStatus          `json:"human_agents"`
	Customers         CustomerStatus           `json:"customers"`
	SystemInitialized bool                     `json:"system_initialized"`
	UptimeSeconds     int64                    `json:"uptime_seconds"`
	Timestamp         time.Time                `json:"timestamp"`
}

// AIAgentStatus describes one specialist on the status page.
type AIAgentStatus struct {
	Name      string   `json:"name"`
	Status    string   `json:"status"`
	Expertise []string `json:"expertise"`
}

// HumanPoolStatus summarises connected operators.
type HumanPoolStatus struct {
	TotalConnected     int               `json:"total_connected"`
	Available          int               `json:"available"`
	Busy               int               `json:"busy"`
	ActiveSessions     int               `json:"active_sessions"`
	AvailableAgentIDs  []string          `json:"available_agent_ids"`
	ActiveAssignments  map[string]string `json:"active_assignments"`
	AllConnectedAgents []string          `json:"all_connected_agents"`
}

// CustomerStatus summarises connected customers.
type CustomerStatus struct {
	TotalConnected      int `json:"total_connected"`
	ActiveConversations int `json:"active_conversations"`
	AssignedToHumans    int `json:"assigned_to_humans"`
	PendingHumanTasks   int `json:"pending_human_tasks"`
}

// DebugResponse is the JSON body returned by GET /api/debug/agents.
type DebugResponse struct {
	ActiveHumanAgents          []string          `json:"active_human_agents"`
	CustomerToAgentAssignments map[string]string `json:"customer_to_agent_assignments"`
	AvailableAgents            []string          `json:"available_agents"`
	PendingHumanTasks          []string          `json:"pending_human_tasks"`
	ActiveCustomerConnections  []string          `json:"active_customer_connections"`
	RuntimeInitialized         bool              `json:"runtime_initialized"`
	Timestamp                  time.Time         `json:"timestamp"`
}

// Presentation describes how a dashboard renders one role.
type Presentation struct {
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type roleStyle struct {
	key         string
	displayName string
	icon        string
	color       string
	description string
	transfer    string
}

var roleStyles = map[string]roleStyle{
	domain.TriageAgent: {
		key:         "CustomerServiceTriageAgent",
		displayName: "Customer Service Triage",
		icon:        "🎯",
		color:       "#6366F1",
		description: "Routes customer requests to appropriate specialists",
		transfer:    "General routing and new request handling",
	},
	domain.TechnicalAgent: {
		key:         "TechnicalSupportAgent",
		displayName: "Technical Support",
		icon:        "🔧",
		color:       "#3B82F6",
		description: "Handles technical issues and troubleshooting",
		transfer:    "Hardware, software, and technical troubleshooting",
	},
	domain.BillingAgent: {
		key:         "BillingSupportAgent",
		displayName: "Billing Support",
		icon:        "💳",
		color:       "#10B981",
		description: "Manages billing and payment inquiries",
		transfer:    "Payment, subscription, and billing inquiries",
	},
	domain.SalesAgent: {
		key:         "SalesSupportAgent",
		displayName: "Sales Support",
		icon:        "🛒",
		color:       "#8B5CF6",
		description: "Provides product information and sales assistance",
		transfer:    "Product information and sales assistance",
	},
	domain.HumanAgent: {
		key:         "HumanSupportAgent",
		displayName: "Human Support",
		icon:        "👤",
		color:       "#F59E0B",
		description: "Live human agent assistance",
	},
}

// statusKeys maps AI roles to their key on the status page.
var statusKeys = map[string]string{
	domain.TriageAgent:    "customer_service_triage",
	domain.TechnicalAgent: "technical_support",
	domain.BillingAgent:   "billing_support",
	domain.SalesAgent:     "sales_support",
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, LoginResponse{Message: "invalid request body"})
		return
	}
	clean := cleanUsername(req.Username)
	if clean == "" {
		writeJSON(w, http.StatusOK, LoginResponse{Message: "Username required"})
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{
		Success:  true,
		AgentID:  fmt.Sprintf("agent_%s_%d", clean, s.opts.Now().Unix()),
		Username: req.Username,
	})
}

// cleanUsername keeps letters, digits, '_' and '-'.
func cleanUsername(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' {
			return r
		}
		return -1
	}, name)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Connections.Snapshot()
	now := s.opts.Now()

	ai := make(map[string]AIAgentStatus)
	if s.deps.Personas != nil {
		for _, st := range s.deps.Personas.List() {
			key, ok := statusKeys[st.ID]
			if !ok {
				key = st.ID
			}
			ai[key] = AIAgentStatus{Name: st.Name, Status: st.Status, Expertise: st.Expertise}
		}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		AIAgents: ai,
		HumanAgents: HumanPoolStatus{
			TotalConnected:     len(snap.ConnectedOperators),
			Available:          len(snap.AvailableOperators),
			Busy:               len(snap.ConnectedOperators) - len(snap.AvailableOperators),
			ActiveSessions:     len(snap.Bindings),
			AvailableAgentIDs:  nonNil(snap.AvailableOperators),
			ActiveAssignments:  snap.Bindings,
			AllConnectedAgents: nonNil(snap.ConnectedOperators),
		},
		Customers: CustomerStatus{
			TotalConnected:      len(snap.Customers),
			ActiveConversations: len(snap.Customers),
			AssignedToHumans:    len(snap.Bindings),
			PendingHumanTasks:   len(snap.PendingCustomers),
		},
		SystemInitialized: s.deps.Runtime != nil,
		UptimeSeconds:     int64(now.Sub(s.started).Seconds()),
		Timestamp:         now,
	})
}

func (s *Server) handleAgentTypes(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]Presentation, len(roleStyles))
	for _, st := range roleStyles {
		out[st.key] = Presentation{
			DisplayName: st.displayName,
			Icon:        st.icon,
			Color:       st.color,
			Description: st.description,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDebugAgents(w http.ResponseWriter, _ *http.Request) {
	snap := s.deps.Connections.Snapshot()
	writeJSON(w, http.StatusOK, DebugResponse{
		ActiveHumanAgents:          nonNil(snap.ConnectedOperators),
		CustomerToAgentAssignments: snap.Bindings,
		AvailableAgents:            nonNil(snap.AvailableOperators),
		PendingHumanTasks:          nonNil(snap.PendingCustomers),
		ActiveCustomerConnections:  nonNil(snap.Customers),
		RuntimeInitialized:         s.deps.Runtime != nil,
		Timestamp:                  s.opts.Now(),
	})
}

func (s *Server) handleTransferOptions(w http.ResponseWriter, _ *http.Request) {
	out := make(map[string]Presentation)
	for _, cmd := range multiagent.TransferCommands() {
		role, _ := multiagent.TransferTarget(cmd)
		st := roleStyles[role]
		out[cmd] = Presentation{
			DisplayName: st.displayName,
			Icon:        st.icon,
			Color:       st.color,
			Description: st.transfer,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
