// Package connection tracks live customer and operator transports, the
// customer-to-operator bindings and escalations waiting for an operator.
//
// Every read-modify-write (assign, bind, park, unbind) happens under one
// lock, so a customer is never both bound and pending and an operator is
// never bound to two customers.
package connection

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"supportmesh/internal/domain"
)

type customerState struct {
	conn        domain.Transport
	activeRole  string
	connectedAt time.Time
}

type operatorState struct {
	conn        domain.Transport
	connectedAt time.Time
}

type pendingEscalation struct {
	task  domain.Task
	since time.Time
}

// PendingEscalation is a parked escalation handed back by the registry.
type PendingEscalation struct {
	CustomerID string
	Task       domain.Task
	Since      time.Time
}

// Registry is the process-wide connection and assignment state.
type Registry struct {
	mu        sync.RWMutex
	customers map[string]*customerState
	operators map[string]*operatorState
	bindings  map[string]string // customer -> operator
	pending   map[string]*pendingEscalation

	transcripts domain.TranscriptStore
	now         func() time.Time
	logger      *slog.Logger
}

// NewRegistry creates an empty registry backed by transcripts for turn logs.
func NewRegistry(transcripts domain.TranscriptStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		customers:   make(map[string]*customerState),
		operators:   make(map[string]*operatorState),
		bindings:    make(map[string]string),
		pending:     make(map[string]*pendingEscalation),
		transcripts: transcripts,
		now:         time.Now,
		logger:      logger.With("component", "connection_registry"),
	}
}

// --- Customers ---

// ConnectCustomer registers a customer's transport.
func (r *Registry) ConnectCustomer(customerID string, conn domain.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.customers[customerID]; exists {
		return domain.NewSubSystemError("customer", "Registry.ConnectCustomer", domain.ErrDuplicate, customerID)
	}
	r.customers[customerID] = &customerState{conn: conn, connectedAt: r.now()}
	return nil
}

// DisconnectCustomer prunes every mapping for the customer and drops its log.
func (r *Registry) DisconnectCustomer(ctx context.Context, customerID string) {
	r.mu.Lock()
	_, known := r.customers[customerID]
	delete(r.customers, customerID)
	operatorID, bound := r.bindings[customerID]
	delete(r.bindings, customerID)
	delete(r.pending, customerID)
	r.mu.Unlock()

	if bound {
		r.logger.Info("customer left while bound", "customer_id", customerID, "operator_id", operatorID)
	}
	if known {
		if err := r.transcripts.Delete(ctx, customerID); err != nil {
			r.logger.Warn("failed to drop transcript", "customer_id", customerID, "error", err)
		}
	}
}

// Customer returns the customer's live transport.
func (r *Registry) Customer(customerID string) (domain.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[customerID]
	if !ok {
		return nil, false
	}
	return c.conn, true
}

// IsCustomerConnected reports whether the customer has a live transport.
func (r *Registry) IsCustomerConnected(customerID string) bool {
	_, ok := r.Customer(customerID)
	return ok
}

// SetActiveRole remembers the AI role that last answered the customer.
func (r *Registry) SetActiveRole(customerID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.customers[customerID]; ok {
		c.activeRole = role
	}
}

// ActiveRole returns the AI role that last answered the customer.
func (r *Registry) ActiveRole(customerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[customerID]
	if !ok || c.activeRole == "" {
		return "", false
	}
	return c.activeRole, true
}

// --- Operators ---

// ConnectOperator registers an operator's transport. An id already
// connected is rejected.
func (r *Registry) ConnectOperator(operatorID string, conn domain.Transport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.operators[operatorID]; exists {
		return domain.NewSubSystemError("operator", "Registry.ConnectOperator", domain.ErrDuplicate, operatorID)
	}
	r.operators[operatorID] = &operatorState{conn: conn, connectedAt: r.now()}
	return nil
}

// DisconnectOperator removes the operator and releases its customers. It
// returns the released customer ids, sorted.
func (r *Registry) DisconnectOperator(operatorID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.operators, operatorID)
	var released []string
	for customerID, op := range r.bindings {
		if op == operatorID {
			delete(r.bindings, customerID)
			released = append(released, customerID)
		}
	}
	sort.Strings(released)
	return released
}

// Operator returns the operator's live transport.
func (r *Registry) Operator(operatorID string) (domain.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.operators[operatorID]
	if !ok {
		return nil, false
	}
	return o.conn, true
}

// AvailableOperators returns connected operators without a binding, sorted.
func (r *Registry) AvailableOperators() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked()
}

func (r *Registry) availableLocked() []string {
	busy := make(map[string]struct{}, len(r.bindings))
	for _, op := range r.bindings {
		busy[op] = struct{}{}
	}
	out := make([]string, 0, len(r.operators))
	for id := range r.operators {
		if _, isBusy := busy[id]; !isBusy {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ConnectedOperatorCount returns the number of live operators.
func (r *Registry) ConnectedOperatorCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.operators)
}

// --- Bindings ---

// AssignOperator binds the customer to the available operator with the
// lowest id and clears any pending escalation for it.
func (r *Registry) AssignOperator(customerID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.customers[customerID]; !ok {
		return "", domain.NewDomainError("Registry.AssignOperator", domain.ErrCustomerNotConnected, customerID)
	}
	if op, bound := r.bindings[customerID]; bound {
		return op, domain.NewDomainError("Registry.AssignOperator", domain.ErrAlreadyAssigned, customerID)
	}
	available := r.availableLocked()
	if len(available) == 0 {
		return "", domain.NewDomainError("Registry.AssignOperator", domain.ErrNoOperatorAvailable, customerID)
	}
	operatorID := available[0]
	r.bindings[customerID] = operatorID
	delete(r.pending, customerID)
	return operatorID, nil
}

// OperatorFor returns the operator bound to the customer.
func (r *Registry) OperatorFor(customerID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.bindings[customerID]
	return op, ok
}

// Unbind removes the customer's binding and pending escalation. It returns
// the operator that was bound.
func (r *Registry) Unbind(customerID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.bindings[customerID]
	delete(r.bindings, customerID)
	delete(r.pending, customerID)
	return op, ok
}

// UnbindIf unbinds the customer only when operatorID owns the binding.
func (r *Registry) UnbindIf(customerID, operatorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bindings[customerID] != operatorID {
		return false
	}
	delete(r.bindings, customerID)
	delete(r.pending, customerID)
	return true
}

// --- Pending escalations ---

// Park stores task as waiting for an operator. It returns false when the
// customer is already bound or already waiting.
func (r *Registry) Park(customerID string, task domain.Task) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.customers[customerID]; !ok {
		return false, domain.NewDomainError("Registry.Park", domain.ErrCustomerNotConnected, customerID)
	}
	if _, bound := r.bindings[customerID]; bound {
		return false, nil
	}
	if _, waiting := r.pending[customerID]; waiting {
		return false, nil
	}
	r.pending[customerID] = &pendingEscalation{task: domain.Task{Context: task.Context.Clone()}, since: r.now()}
	return true, nil
}

// IsPending reports whether the customer is waiting for an operator.
func (r *Registry) IsPending(customerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pending[customerID]
	return ok
}

// AppendPending adds msg to a waiting customer's parked context.
func (r *Registry) AppendPending(customerID string, msg domain.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[customerID]
	if !ok {
		return false
	}
	p.task.Context = p.task.Context.Append(msg)
	return true
}

// TakePending removes and returns the customer's parked escalation.
func (r *Registry) TakePending(customerID string) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[customerID]
	if !ok {
		return domain.Task{}, false
	}
	delete(r.pending, customerID)
	return p.task, true
}

// NextPending returns the oldest parked escalation without removing it.
func (r *Registry) NextPending() (PendingEscalation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		best  PendingEscalation
		found bool
	)
	for id, p := range r.pending {
		if !found || p.since.Before(best.Since) || (p.since.Equal(best.Since) && id < best.CustomerID) {
			best = PendingEscalation{CustomerID: id, Task: p.task, Since: p.since}
			found = true
		}
	}
	return best, found
}

// ExpirePending removes and returns escalations parked longer than maxWait,
// oldest first.
func (r *Registry) ExpirePending(maxWait time.Duration) []PendingEscalation {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxWait)
	var out []PendingEscalation
	for id, p := range r.pending {
		if p.since.Before(cutoff) {
			out = append(out, PendingEscalation{CustomerID: id, Task: p.task, Since: p.since})
			delete(r.pending, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// --- Conversation log ---

// AppendTurn logs a turn for a connected customer. Turns for customers that
// already left are discarded.
func (r *Registry) AppendTurn(ctx context.Context, customerID string, turn domain.ConversationTurn) error {
	if !r.IsCustomerConnected(customerID) {
		return nil
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.now()
	}
	if err := r.transcripts.Append(ctx, customerID, turn); err != nil {
		return domain.WrapOp("Registry.AppendTurn", err)
	}
	// A disconnect that landed mid-append already dropped the log; drop the
	// one this append recreated.
	if !r.IsCustomerConnected(customerID) {
		r.logger.Debug("dropping turn logged after disconnect", "customer_id", customerID)
		return domain.WrapOp("Registry.AppendTurn", r.transcripts.Delete(ctx, customerID))
	}
	return nil
}

// RecentTurns returns at most the last n logged turns.
func (r *Registry) RecentTurns(ctx context.Context, customerID string, n int) ([]domain.ConversationTurn, error) {
	turns, err := r.transcripts.Recent(ctx, customerID, n)
	return turns, domain.WrapOp("Registry.RecentTurns", err)
}

// --- Introspection ---

// Snapshot is a read-only projection for status endpoints.
type Snapshot struct {
	ConnectedOperators []string          `json:"connected_operators"`
	AvailableOperators []string          `json:"available_operators"`
	Bindings           map[string]string `json:"bindings"`
	PendingCustomers   []string          `json:"pending_customers"`
	Customers          []string          `json:"customers"`
}

// Snapshot returns a consistent copy of the registry state.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Snapshot{
		ConnectedOperators: sortedKeys(r.operators),
		AvailableOperators: r.availableLocked(),
		Bindings:           make(map[string]string, len(r.bindings)),
		PendingCustomers:   sortedKeys(r.pending),
		Customers:          sortedKeys(r.customers),
	}
	for c, o := range r.bindings {
		s.Bindings[c] = o
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
