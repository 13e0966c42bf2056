// Package services – ChatService
//
// This file implements ChatService, the driver of the guided support
// conversation. A turn is processed under the per-session lock:
//
//  1. load the session and decode its persisted state,
//  2. screen the text with the guardrail filter,
//  3. run the conversation machine (which calls audited tools),
//  4. persist the new state, the status and both transcript entries in one
//     transaction.
//
// No session state is kept in memory between turns. Resume re-renders the
// prompt for the persisted state without reading the transcript.
//
// Observability: public methods are OpenTelemetry-instrumented with the
// session and case identifiers.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-agent/internal/conversation"
	"github.com/tbourn/go-support-agent/internal/domain"
	"github.com/tbourn/go-support-agent/internal/guardrail"
	"github.com/tbourn/go-support-agent/internal/policy"
	"github.com/tbourn/go-support-agent/internal/repo"
	"github.com/tbourn/go-support-agent/internal/utils"
)

// DefaultMaxMessageRunes caps the free text of a single turn.
const DefaultMaxMessageRunes = 2000

// withheldMessage replaces denied text in the transcript.
const withheldMessage = "[message withheld by guardrail]"

// ChatService runs conversation turns against the store.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Machine applies turns; its tools are the audited ToolService.
	Machine *conversation.Machine
	// Guard screens free text before it reaches the machine.
	Guard *guardrail.Filter
	// Locks serializes turns per session.
	Locks SessionLocker

	// MaxMessageRunes caps free text by rune length.
	MaxMessageRunes int
	// LockTimeout bounds the wait for a busy session; zero waits for ctx.
	LockTimeout time.Duration
}

// NewChatService wires a ChatService around tools. A nil guard or locker
// selects the defaults (default filter, in-process locks).
func NewChatService(db *gorm.DB, tools *ToolService, guard *guardrail.Filter, locks SessionLocker, mode string) *ChatService {
	if tools.Policy == nil {
		tools.Policy = policy.NewProvider(nil)
	}
	if guard == nil {
		guard = guardrail.New(0, 0)
	}
	if locks == nil {
		locks = NewLocalLocker()
	}
	return &ChatService{
		DB: db,
		Machine: &conversation.Machine{
			Tools:     chatTools{svc: tools},
			Policy:    tools.Policy,
			Mode:      mode,
			Retryable: Retryable,
		},
		Guard:           guard,
		Locks:           locks,
		MaxMessageRunes: DefaultMaxMessageRunes,
		LockTimeout:     10 * time.Second,
	}
}

func (s *ChatService) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := otel.Tracer("services/ChatService")
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Start opens a new session with a fresh case id and returns the greeting.
func (s *ChatService) Start(ctx context.Context) (*conversation.Directive, error) {
	ids := conversation.IDs{SessionID: utils.RandomID("SES"), CaseID: utils.RandomID("CASE")}
	ctx, span := s.span(ctx, "Start",
		attribute.String("session.id", ids.SessionID),
		attribute.String("case.id", ids.CaseID),
	)
	defer span.End()

	snap := conversation.Initial()
	state, err := conversation.Encode(snap)
	if err != nil {
		return nil, systemErr("encode state", err)
	}
	d, err := s.Machine.Render(ctx, ids, snap)
	if err != nil {
		return nil, turnErr(err)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess := &domain.ChatSession{
			SessionID: ids.SessionID,
			CaseID:    ids.CaseID,
			State:     state,
			Status:    conversation.SessionStatus(snap.State.Stage()),
		}
		if err := repo.CreateSession(ctx, tx, sess); err != nil {
			return err
		}
		_, err := repo.AppendMessage(ctx, tx, ids.SessionID, domain.RoleAgent, d.Message)
		return err
	})
	if err != nil {
		return nil, systemErr("create session", err)
	}
	logFrom(ctx).Info().Str("session_id", ids.SessionID).Str("case_id", ids.CaseID).Msg("session started")
	return &d, nil
}

// Message applies one customer turn to the session.
func (s *ChatService) Message(ctx context.Context, sessionID string, in conversation.Input) (*conversation.Directive, error) {
	ctx, span := s.span(ctx, "Message", attribute.String("session.id", sessionID))
	defer span.End()

	in.Text = normalizeText(in.Text)
	if isEmptyInput(in) {
		return nil, ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(in.Text) > s.MaxMessageRunes {
		return nil, ErrTooLong
	}

	unlock, err := s.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, notFoundOr(err, ErrSessionNotFound, "get session")
	}
	span.SetAttributes(attribute.String("case.id", sess.CaseID))
	snap, err := conversation.Decode(sess.State)
	if err != nil {
		return nil, systemErr("decode session", err)
	}
	ids := conversation.IDs{SessionID: sess.SessionID, CaseID: sess.CaseID}
	lg := logFrom(ctx).With().Str("session_id", sess.SessionID).Str("case_id", sess.CaseID).Logger()

	userContent := describeInput(in)
	verdict := s.inspect(in, guardrail.SessionContext{
		SessionID: sess.SessionID,
		CaseID:    sess.CaseID,
		Stage:     string(snap.State.Stage()),
		Strikes:   snap.Strikes,
	})

	var res conversation.Result
	if verdict.Allowed {
		res, err = s.Machine.Step(ctx, ids, snap, in)
	} else {
		guardrailDenials.WithLabelValues(string(verdict.Category)).Inc()
		lg.Warn().Str("category", string(verdict.Category)).Int("strikes", snap.Strikes+1).Msg("guardrail denied turn")
		userContent = withheldMessage
		res, err = s.Machine.Refuse(ctx, ids, snap, verdict, s.Guard.StrikeLimit())
	}
	if err != nil {
		lg.Error().Err(err).Msg("turn failed")
		return nil, turnErr(err)
	}

	stage := res.Snapshot.State.Stage()
	state, err := conversation.Encode(res.Snapshot)
	if err != nil {
		return nil, systemErr("encode state", err)
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.SaveSession(ctx, tx, sess.SessionID, sess.Version, state, conversation.SessionStatus(stage)); err != nil {
			return err
		}
		if _, err := repo.AppendMessage(ctx, tx, sess.SessionID, domain.RoleUser, userContent); err != nil {
			return err
		}
		_, err := repo.AppendMessage(ctx, tx, sess.SessionID, domain.RoleAgent, res.Directive.Message)
		return err
	})
	if errors.Is(err, repo.ErrTerminalSession) {
		return nil, ErrSessionClosed
	}
	if errors.Is(err, repo.ErrStaleSession) {
		lg.Warn().Msg("session changed during turn")
		return nil, ErrSessionBusy
	}
	if err != nil {
		return nil, systemErr("save turn", err)
	}

	chatTurns.WithLabelValues(string(stage)).Inc()
	if stage != snap.State.Stage() {
		lg.Info().Str("from", string(snap.State.Stage())).Str("to", string(stage)).Msg("stage changed")
	}
	return &res.Directive, nil
}

// Resume re-renders the prompt of the persisted state.
func (s *ChatService) Resume(ctx context.Context, sessionID string) (*conversation.Directive, error) {
	ctx, span := s.span(ctx, "Resume", attribute.String("session.id", sessionID))
	defer span.End()

	sess, err := repo.GetSession(ctx, s.DB, sessionID)
	if err != nil {
		return nil, notFoundOr(err, ErrSessionNotFound, "get session")
	}
	snap, err := conversation.Decode(sess.State)
	if err != nil {
		return nil, systemErr("decode session", err)
	}
	d, err := s.Machine.Render(ctx, conversation.IDs{SessionID: sess.SessionID, CaseID: sess.CaseID}, snap)
	if err != nil {
		return nil, turnErr(err)
	}
	return &d, nil
}

// History returns a page of the transcript, oldest first.
func (s *ChatService) History(ctx context.Context, sessionID string, page, pageSize int) ([]domain.ChatMessage, int64, error) {
	ctx, span := s.span(ctx, "History",
		attribute.String("session.id", sessionID),
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		return nil, 0, notFoundOr(err, ErrSessionNotFound, "get session")
	}
	total, err := repo.CountMessages(ctx, s.DB, sessionID)
	if err != nil {
		return nil, 0, systemErr("count messages", err)
	}
	if total == 0 {
		return []domain.ChatMessage{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, sessionID, offset, pageSize)
	if err != nil {
		return nil, 0, systemErr("list messages", err)
	}
	return items, total, nil
}

// HistoryVersion returns (count, lastID) of the transcript, which changes on
// every append.
func (s *ChatService) HistoryVersion(ctx context.Context, sessionID string) (int64, uint64, error) {
	count, lastID, _, err := repo.MessagesStats(ctx, s.DB, sessionID)
	if err != nil {
		return 0, 0, systemErr("message stats", err)
	}
	return count, lastID, nil
}

func (s *ChatService) lock(ctx context.Context, sessionID string) (func(), error) {
	lockCtx := ctx
	if s.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.LockTimeout)
		defer cancel()
	}
	start := time.Now()
	unlock, err := s.Locks.Lock(lockCtx, sessionID)
	sessionLockWait.Observe(time.Since(start).Seconds())
	return unlock, err
}

// turnErr keeps classified errors and treats the rest (including invalid
// state) as system failures.
func turnErr(err error) error { return systemErr("turn", err) }

// inspect runs the guardrail over the text and every control value of in.
// Controls are client-supplied strings too, so any denied field refuses the
// whole turn before a tool sees it.
func (s *ChatService) inspect(in conversation.Input, sc guardrail.SessionContext) guardrail.Verdict {
	values := append([]string{
		in.Text, in.Identifier, in.OrderID, in.Reason,
		in.EvidenceID, in.Choice, in.Satisfaction,
	}, in.ItemIDs...)
	for _, v := range values {
		if verdict := s.Guard.Inspect(v, sc); !verdict.Allowed {
			return verdict
		}
	}
	return guardrail.Verdict{Allowed: true}
}

func isEmptyInput(in conversation.Input) bool {
	return in.Text == "" &&
		strings.TrimSpace(in.Identifier) == "" &&
		strings.TrimSpace(in.OrderID) == "" &&
		len(in.ItemIDs) == 0 &&
		strings.TrimSpace(in.Reason) == "" &&
		strings.TrimSpace(in.EvidenceID) == "" &&
		strings.TrimSpace(in.Choice) == "" &&
		strings.TrimSpace(in.Satisfaction) == ""
}

// describeInput renders the transcript entry of a turn: the text, or the
// control values that were sent.
func describeInput(in conversation.Input) string {
	if in.Text != "" {
		return in.Text
	}
	fields := map[string]string{
		conversation.FieldIdentifier:   in.Identifier,
		conversation.FieldOrderID:      in.OrderID,
		conversation.FieldItemIDs:      strings.Join(in.ItemIDs, ","),
		conversation.FieldReason:       in.Reason,
		conversation.FieldEvidence:     in.EvidenceID,
		conversation.FieldChoice:       in.Choice,
		conversation.FieldSatisfaction: in.Satisfaction,
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

// normalizeText trims whitespace and collapses multiple spaces to one.
func normalizeText(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(s), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
