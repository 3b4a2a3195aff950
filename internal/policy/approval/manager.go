package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"coda/pkg/logger"
)

// pendingRequest holds the state for a pending approval request.
type pendingRequest struct {
	request *Request
	done    chan *Result
	timer   *time.Timer
}

// Manager holds pending approval requests until a notifier answers them or
// they time out.
type Manager struct {
	mu sync.RWMutex

	pending map[string]*pendingRequest

	notifier Notifier
	audit    AuditLogger
	logger   zerolog.Logger

	timeout    time.Duration
	maxPending int
}

// ManagerConfig configures the Manager.
type ManagerConfig struct {
	Notifier   Notifier
	Audit      AuditLogger
	Timeout    time.Duration
	MaxPending int
}

// NewManager creates a new Manager.
func NewManager(config *ManagerConfig) *Manager {
	m := &Manager{
		pending:    make(map[string]*pendingRequest),
		logger:     logger.Component("approval"),
		timeout:    5 * time.Minute,
		maxPending: 100,
	}
	if config != nil {
		if config.Timeout > 0 {
			m.timeout = config.Timeout
		}
		if config.MaxPending > 0 {
			m.maxPending = config.MaxPending
		}
		m.notifier = config.Notifier
		m.audit = config.Audit
	}
	return m
}

// SetNotifier sets the notifier.
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
}

// SetAudit sets the audit logger.
func (m *Manager) SetAudit(a AuditLogger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = a
}

// SetLogger sets a custom logger.
func (m *Manager) SetLogger(l zerolog.Logger) {
	m.logger = l
}

// RequestApproval registers req and blocks until it is answered, times out
// or ctx is done. ID, CreatedAt and ExpiresAt are filled in when empty.
func (m *Manager) RequestApproval(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	if len(m.pending) >= m.maxPending {
		m.mu.Unlock()
		return nil, ErrMaxPendingExceeded
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now()
	req.CreatedAt = now
	req.ExpiresAt = now.Add(m.timeout)

	pr := &pendingRequest{
		request: req,
		done:    make(chan *Result, 1),
	}
	m.pending[req.ID] = pr
	pr.timer = time.AfterFunc(m.timeout, func() {
		m.handleTimeout(req.ID)
	})
	notifier, audit := m.notifier, m.audit
	m.mu.Unlock()

	m.logger.Info().
		Str("request_id", req.ID).
		Str("tool", req.ToolName).
		Str("reason", req.Reason).
		Msg("approval request created")

	if audit != nil {
		if err := audit.LogRequest(req); err != nil {
			m.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to audit approval request")
		}
	}
	if notifier != nil {
		if err := notifier.NotifyRequest(req); err != nil {
			m.logger.Warn().Err(err).Str("request_id", req.ID).Msg("failed to send approval notification")
		}
	}

	select {
	case result := <-pr.done:
		return result, nil
	case <-ctx.Done():
		m.cleanup(req.ID)
		return &Result{
			Approved:  false,
			Message:   "request cancelled",
			DecidedAt: time.Now(),
			Decision:  DecisionRejected,
		}, ctx.Err()
	}
}

// HandleResponse resolves a pending request.
func (m *Manager) HandleResponse(requestID string, approved bool, message string) error {
	decision := DecisionRejected
	if approved {
		decision = DecisionApproved
	}
	return m.resolve(requestID, &Result{
		Approved:   approved,
		Message:    message,
		ApprovedBy: "user",
		DecidedAt:  time.Now(),
		Decision:   decision,
	})
}

func (m *Manager) handleTimeout(requestID string) {
	_ = m.resolve(requestID, &Result{
		Approved:  false,
		Message:   ErrApprovalTimeout.Error(),
		DecidedAt: time.Now(),
		Decision:  DecisionTimeout,
	})
}

func (m *Manager) resolve(requestID string, result *Result) error {
	m.mu.Lock()
	pr, ok := m.pending[requestID]
	if !ok {
		m.mu.Unlock()
		return ErrRequestNotFound
	}
	if pr.timer != nil {
		pr.timer.Stop()
	}
	delete(m.pending, requestID)
	notifier, audit := m.notifier, m.audit
	m.mu.Unlock()

	m.logger.Info().
		Str("request_id", requestID).
		Str("tool", pr.request.ToolName).
		Str("decision", string(result.Decision)).
		Msg("approval resolved")

	if audit != nil {
		if err := audit.LogDecision(pr.request, result); err != nil {
			m.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to audit approval decision")
		}
	}
	if notifier != nil {
		if err := notifier.NotifyResolved(pr.request, result); err != nil {
			m.logger.Warn().Err(err).Str("request_id", requestID).Msg("failed to send resolution notification")
		}
	}

	select {
	case pr.done <- result:
	default:
	}
	return nil
}

// cleanup removes a pending request without sending a result.
func (m *Manager) cleanup(requestID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pr, ok := m.pending[requestID]; ok {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		delete(m.pending, requestID)
	}
}

// GetPending returns a pending approval request by ID.
func (m *Manager) GetPending(requestID string) (*Request, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pr, ok := m.pending[requestID]; ok {
		return pr.request, true
	}
	return nil, false
}

// ListPending returns all pending approval requests, oldest first.
func (m *Manager) ListPending() []*Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Request, 0, len(m.pending))
	for _, pr := range m.pending {
		out = append(out, pr.request)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// PendingCount returns the number of pending requests.
func (m *Manager) PendingCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending)
}

// Close rejects all pending requests.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, pr := range m.pending {
		if pr.timer != nil {
			pr.timer.Stop()
		}
		select {
		case pr.done <- &Result{
			Approved:  false,
			Message:   "manager closed",
			DecidedAt: time.Now(),
			Decision:  DecisionRejected,
		}:
		default:
		}
		delete(m.pending, id)
	}
}
