package usecase

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"guidebot/internal/domain"
	"guidebot/internal/infra/tracer"
)

// Confirmation words always bypass deduplication: users legitimately repeat
// them across turns within the same minute.
var dedupBypassWords = map[string]bool{
	"yes": true, "no": true, "confirm": true, "ok": true,
	"sure": true, "cancel": true, "proceed": true,
}

var resetPhrases = map[string]bool{
	"reset": true, "clear": true, "start over": true, "restart": true, "new search": true,
}

// Result is the orchestrator's answer for one inbound message.
type Result struct {
	Message        string
	SkipResponse   bool
	AgentsInvolved []string
	StrandInfo     map[string]string
	MemoryInsights map[string]string
}

// Orchestrator runs one inbound message to completion: dedup, reset handling,
// strand selection, delegation, and memory bookkeeping. Two concurrent
// deliveries of the same message can race session state, so the dedup hash
// over (user, text, type, minute) is a correctness mechanism, not a cache.
type Orchestrator struct {
	registry *Registry
	sessions *SessionManager
	memory   *MemoryService
	strands  *StrandManager
	dedup    domain.DedupStore
	seen     *ristretto.Cache
	dedupTTL time.Duration
	logger   *slog.Logger
}

// NewOrchestrator wires the orchestrator. dedupTTL bounds the window in which
// an identical message is considered a duplicate.
func NewOrchestrator(
	registry *Registry,
	sessions *SessionManager,
	memory *MemoryService,
	strands *StrandManager,
	dedup domain.DedupStore,
	dedupTTL time.Duration,
	logger *slog.Logger,
) (*Orchestrator, error) {
	if dedupTTL <= 0 {
		dedupTTL = 60 * time.Second
	}
	seen, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, domain.WrapOp("NewOrchestrator", err)
	}
	return &Orchestrator{
		registry: registry,
		sessions: sessions,
		memory:   memory,
		strands:  strands,
		dedup:    dedup,
		seen:     seen,
		dedupTTL: dedupTTL,
		logger:   logger,
	}, nil
}

// ProcessMessage handles one inbound message end to end and returns the
// user-facing reply.
func (o *Orchestrator) ProcessMessage(ctx context.Context, in domain.InboundMessage) (*Result, error) {
	ctx, span := tracer.StartSpan(ctx, "Orchestrator.ProcessMessage",
		tracer.StringAttr("user_id", in.SenderID),
		tracer.StringAttr("message_type", in.MessageType))
	defer span.End()

	userID := in.SenderID
	normalized := strings.ToLower(strings.TrimSpace(in.Content))

	// Reset bypasses everything else.
	if resetPhrases[normalized] {
		return o.reset(ctx, userID)
	}

	if o.isDuplicate(ctx, userID, normalized, in.MessageType) {
		o.logger.Info("duplicate message skipped", "user_id", userID)
		return &Result{SkipResponse: true}, nil
	}

	intent := lexicalIntent(normalized, len(in.Image) > 0)
	strand, err := o.strands.GetOrCreate(ctx, userID, StrandTypeForIntent(intent))
	if err != nil {
		return nil, err
	}

	// A cultural inquiry that turned into a booking folds into the booking
	// strand so downstream agents see the full context.
	if strand.Type == domain.StrandBooking {
		active, err := o.strands.ActiveStrands(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, s := range active {
			if s.Type == domain.StrandCultural {
				if err := o.strands.Merge(ctx, strand, s); err != nil {
					o.logger.Warn("strand merge failed", "strand_id", s.ID, "error", err)
				}
			}
		}
	}

	mem, err := o.memory.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sess := o.sessions.GetOrCreate(userID)

	strand.AddMessage(domain.RoleUser, in.Content, "")
	mem.ShortTerm.LastIntent = intent

	req := domain.AgentRequest{
		UserID:     userID,
		Message:    in.Content,
		Session:    sess,
		Memory:     mem,
		Strand:     strand,
		Image:      in.Image,
		ImageQuery: in.Content,
	}

	// Images go straight to the cultural agent; everything else goes through
	// the tourist dispatcher.
	target := domain.AgentTourist
	if len(in.Image) > 0 {
		target = domain.AgentCultural
	}
	agent, err := o.registry.Get(target)
	if err != nil {
		return nil, err
	}

	resp, err := agent.Handle(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return nil, domain.WrapOp("Orchestrator.ProcessMessage", err)
	}
	tracer.SetOK(span)

	return o.postProcess(ctx, userID, in.Content, sess, mem, strand, resp, target)
}

// reset clears memory, strands, and session for the user.
func (o *Orchestrator) reset(ctx context.Context, userID string) (*Result, error) {
	if err := o.memory.Clear(ctx, userID); err != nil {
		return nil, err
	}
	if err := o.strands.ClearForUser(ctx, userID); err != nil {
		return nil, err
	}
	o.sessions.Delete(userID)
	return &Result{
		Message: "🔄 All clear! Let's start fresh. I can find you a local guide, answer cultural questions, or help you register as a guide. What would you like?",
	}, nil
}

// isDuplicate registers the message hash, failing open on store errors so a
// flaky store never blocks legitimate messages.
func (o *Orchestrator) isDuplicate(ctx context.Context, userID, normalized, messageType string) bool {
	if dedupBypassWords[normalized] {
		return false
	}

	minute := time.Now().Unix() / 60
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s:%d", userID, normalized, messageType, minute)))
	hash := hex.EncodeToString(sum[:])

	if _, found := o.seen.Get(hash); found {
		return true
	}
	o.seen.SetWithTTL(hash, struct{}{}, 1, o.dedupTTL)

	if err := o.dedup.Register(ctx, hash, o.dedupTTL); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			return true
		}
		o.logger.Warn("dedup store unavailable, failing open", "error", err)
	}
	return false
}

// postProcess records the turn in strand and memory, extracts simple
// preferences, and auto-resets after completed flows.
func (o *Orchestrator) postProcess(
	ctx context.Context,
	userID, message string,
	sess *domain.Session,
	mem *domain.UserMemory,
	strand *domain.Strand,
	resp *domain.AgentResponse,
	target domain.AgentName,
) (*Result, error) {
	// Delegated agents record their own reply on the strand; cover the
	// direct-answer case.
	if n := len(strand.Messages); n == 0 || strand.Messages[n-1].Role != domain.RoleAssistant {
		strand.AddMessage(domain.RoleAssistant, resp.Message, string(target))
	}
	if loc := sess.State.Criteria.Location; loc != "" {
		strand.SetContext("location", loc)
	}
	if resp.Booking != nil {
		strand.SetContext("budget", fmt.Sprintf("%.0f", resp.Booking.Pricing.Total))
	}

	// An image turn parks the cultural agent's derived suggestion so an
	// affirmative next turn can seed the guide search.
	if target == domain.AgentCultural {
		if resp.Suggestion != nil {
			sess.State = domain.ConversationState{
				Kind:       domain.StateImageFollowUp,
				Criteria:   sess.State.Criteria,
				Suggestion: resp.Suggestion,
			}
		}
		sess.Touch("image_analysis")
	}

	mem.ShortTerm.ActiveAgent = string(target)
	mem.AppendHistory(domain.MemoryEvent{
		Type:      "conversation",
		Message:   message,
		Response:  resp.Message,
		Agent:     string(target),
		Timestamp: time.Now(),
	})
	if loc, ok := strand.Context["location"]; ok && loc != "" {
		mem.Remember("location", loc)
	}
	if budget, ok := strand.Context["budget"]; ok && budget != "" {
		mem.Remember("budget", budget)
	}
	if resp.Booking != nil && resp.Booking.Status == domain.BookingConfirmed {
		mem.LongTerm.SuccessfulBookings = append(mem.LongTerm.SuccessfulBookings, resp.Booking.Confirmation)
	}

	result := &Result{
		Message:        resp.Message,
		AgentsInvolved: append([]string(nil), strand.AgentsInvolved...),
		StrandInfo: map[string]string{
			"strand_id": strand.ID,
			"type":      string(strand.Type),
			"status":    strand.Status,
		},
		MemoryInsights: map[string]string{
			"history_events": strconv.Itoa(len(mem.LongTerm.History)),
			"preferences":    strconv.Itoa(len(mem.LongTerm.Preferences)),
			"last_intent":    mem.ShortTerm.LastIntent,
		},
	}

	// A finished booking or registration starts the next conversation clean.
	if resp.Completed != "" {
		if err := o.strands.Complete(ctx, strand, resp.Completed); err != nil {
			return nil, err
		}
		result.StrandInfo["status"] = strand.Status
		if err := o.memory.Clear(ctx, userID); err != nil {
			return nil, err
		}
		if err := o.strands.ClearForUser(ctx, userID); err != nil {
			return nil, err
		}
		sess.Reset()
		return result, nil
	}

	if err := o.strands.Update(ctx, strand); err != nil {
		return nil, err
	}
	if err := o.memory.Update(ctx, mem); err != nil {
		return nil, err
	}
	return result, nil
}

// lexicalIntent is the cheap pre-classification that only picks a strand
// type; the tourist agent makes the real routing decision.
func lexicalIntent(normalized string, hasImage bool) string {
	if hasImage {
		return "cultural"
	}
	switch {
	case containsAny(normalized, "register", "become a guide", "sign up", "i am a guide", "i'm a guide"):
		return "registration"
	case containsAny(normalized, "temple", "culture", "custom", "etiquette", "wat ", "monk", "respect", "tradition"):
		return "cultural"
	case containsAny(normalized, "book", "guide", "tour", "trip", "visit", "more"):
		return "booking"
	default:
		return "general"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
