package gateway

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/parrot/internal/agent"
	"github.com/haasonsaas/parrot/internal/cron"
	"github.com/haasonsaas/parrot/internal/observability"
	"github.com/haasonsaas/parrot/internal/outbound"
	"github.com/haasonsaas/parrot/internal/storage"
	"github.com/haasonsaas/parrot/internal/tasks"
	"github.com/haasonsaas/parrot/pkg/models"
)

// DefaultHistoryLimit is how many history entries accompany each exchange.
const DefaultHistoryLimit = 20

const (
	privateBotReply = "Sorry, this bot is private."
	emptyReply      = "Send me a message or /help to see what I can do."
)

// Config configures a Service.
type Config struct {
	// HistoryLimit caps the entries loaded per exchange.
	// Default: 20
	HistoryLimit int

	// SystemPrompt is passed with every exchange.
	SystemPrompt string

	// Admins may use owner-only tools and commands.
	Admins []string

	// AllowedUsers limits who may use the bot. Empty allows everyone.
	AllowedUsers []string

	// ExchangeTimeout bounds one agent run.
	// Default: 5m
	ExchangeTimeout time.Duration

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// Service answers inbound messages.
type Service struct {
	config   Config
	runner   Runner
	history  storage.HistoryStore
	tasks    *tasks.Manager
	jobs     *cron.Manager
	notifier outbound.Notifier
	admins   map[string]bool
	allowed  map[string]bool
	logger   *slog.Logger
	now      func() time.Time

	locksMu sync.Mutex
	locks   map[string]*ownerLock
}

type ownerLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithTasks enables the /tasks command.
func WithTasks(m *tasks.Manager) Option {
	return func(s *Service) { s.tasks = m }
}

// WithJobs enables the /jobs command.
func WithJobs(m *cron.Manager) Option {
	return func(s *Service) { s.jobs = m }
}

// WithNotifier is handed to tools so they can reach the user out of band.
func WithNotifier(n outbound.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a Service.
func NewService(runner Runner, history storage.HistoryStore, config Config, opts ...Option) *Service {
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = DefaultHistoryLimit
	}
	if config.ExchangeTimeout <= 0 {
		config.ExchangeTimeout = 5 * time.Minute
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		config:  config,
		runner:  runner,
		history: history,
		admins:  toSet(config.Admins),
		allowed: toSet(config.AllowedUsers),
		logger:  logger.With("component", "gateway"),
		now:     time.Now,
		locks:   make(map[string]*ownerLock),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAdmin reports whether ownerID is an admin.
func (s *Service) IsAdmin(ownerID string) bool {
	return s.admins[ownerID]
}

// Handle answers one inbound message. Exchanges of the same owner are
// serialized; different owners run concurrently.
func (s *Service) Handle(ctx context.Context, in Inbound) Reply {
	s.config.Metrics.MessageReceived(in.Channel)
	if len(s.allowed) > 0 && !s.allowed[in.OwnerID] && !s.admins[in.OwnerID] {
		s.logger.Info("ignoring message from unlisted user", "owner_id", in.OwnerID, "channel", in.Channel)
		return Reply{Text: privateBotReply}
	}

	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" && len(in.Attachments) == 0 {
		return Reply{Text: emptyReply}
	}

	unlock := s.lockOwner(in.OwnerID)
	defer unlock()

	if name, args, ok := parseCommand(in.Text); ok {
		if cmd, found := lookupCommand(name); found {
			reply := s.runCommand(ctx, cmd, in, args)
			s.config.Metrics.MessageSent(in.Channel)
			return reply
		}
	}

	reply := s.exchange(ctx, in)
	s.config.Metrics.MessageSent(in.Channel)
	return reply
}

func (s *Service) exchange(ctx context.Context, in Inbound) Reply {
	ctx, span := s.config.Tracer.TraceExchange(ctx, in.Channel, in.OwnerID)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, s.config.ExchangeTimeout)
	defer cancel()

	history, err := s.history.RecentHistory(ctx, in.OwnerID, s.config.HistoryLimit)
	if err != nil {
		s.logger.Warn("failed to load history, continuing without it", "owner_id", in.OwnerID, "error", err)
		history = nil
	}

	req := &agent.Request{
		System:      s.config.SystemPrompt,
		History:     history,
		UserText:    in.Text,
		Attachments: in.Attachments,
	}
	inv := &agent.Invocation{
		CallerID: in.OwnerID,
		ChatID:   in.ChatID,
		Notifier: s.notifier,
		IsAdmin:  s.IsAdmin(in.OwnerID),
	}

	started := s.now()
	result := s.runner.Run(ctx, req, inv)
	s.logger.Info("exchange finished",
		"owner_id", in.OwnerID,
		"channel", in.Channel,
		"provider", result.Provider,
		"turns", result.Turns,
		"tool_calls", result.ToolCalls,
		"failure", result.Failure,
		"exhausted", result.Exhausted,
		"duration_ms", s.now().Sub(started).Milliseconds(),
	)

	if result.Failure == "" {
		s.remember(in, result.Text)
	}
	return Reply{Text: result.Text, Media: result.Media}
}

// remember appends the user and assistant turns. Failed exchanges are not
// recorded so a retry starts from the same history.
func (s *Service) remember(in Inbound, answer string) {
	userText := in.Text
	if userText == "" {
		userText = describeAttachments(in.Attachments)
	}
	now := s.now().UTC()
	entries := []*models.HistoryEntry{
		{OwnerID: in.OwnerID, Role: models.RoleUser, Content: userText, CreatedAt: now},
	}
	if strings.TrimSpace(answer) != "" {
		entries = append(entries, &models.HistoryEntry{
			OwnerID:   in.OwnerID,
			Role:      models.RoleAssistant,
			Content:   answer,
			CreatedAt: now,
		})
	}

	// The exchange context may be spent; history writes get their own budget.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.history.AppendHistory(ctx, entries...); err != nil {
		s.logger.Error("failed to persist history", "owner_id", in.OwnerID, "error", err)
	}
}

func describeAttachments(atts []models.Attachment) string {
	parts := make([]string, 0, len(atts))
	for _, att := range atts {
		parts = append(parts, "["+string(att.Kind)+"]")
	}
	return strings.Join(parts, " ")
}

// lockOwner serializes exchanges per owner. Entries are dropped once no
// exchange holds or waits on them.
func (s *Service) lockOwner(ownerID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[ownerID]
	if !ok {
		l = &ownerLock{}
		s.locks[ownerID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, ownerID)
		}
		s.locksMu.Unlock()
	}
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = true
		}
	}
	return set
}
