// Package services – FlowService
//
// This file implements the flow interpreter: the state machine that walks an
// incoming chat user through a prize's conversation graph. Given an inbound
// event and the user's session, it consumes the event at the current node,
// follows the matching edge, auto-advances through nodes that need no input
// (the entry trigger, lottery draws), emits the destination nodes' messages,
// and commits the session advance together with the event's dedupe record in
// one transaction.
//
// Concurrency: same-session events are serialized behind an in-process keyed
// lock held for the whole load → resolve → advance; cross-session work runs
// freely in parallel. The quota ledger, not this file, owns every counter.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
	"github.com/sakamotodd/chatbot-sub001/internal/graph"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
	"github.com/sakamotodd/chatbot-sub001/internal/sysutil"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// InboundEvent is one user action delivered by the chat-channel integration.
type InboundEvent struct {
	CampaignID string    `json:"campaign_id"`
	PrizeID    string    `json:"prize_id"`
	UserID     string    `json:"instagram_user_id"`
	EventKey   string    `json:"event_key,omitempty"` // channel message id, for redelivery dedupe
	Timestamp  time.Time `json:"timestamp"`

	Text           string `json:"text,omitempty"`
	SelectedOption string `json:"selected_option_value,omitempty"`
}

// payload returns the routable content of the event, preferring an explicit
// selection over free text, normalized for matching.
func (ev InboundEvent) payload() string {
	return graph.Normalize(sysutil.FirstNonEmpty(ev.SelectedOption, ev.Text))
}

// FlowOutcome classifies what one event did to a session.
type FlowOutcome string

// Flow outcomes.
const (
	// OutcomeAdvanced: the session moved to a new node.
	OutcomeAdvanced FlowOutcome = "ADVANCED"
	// OutcomeCompleted: the session reached a terminal node this event.
	OutcomeCompleted FlowOutcome = "COMPLETED"
	// OutcomeReprompt: the selection was unroutable; no advance, the current
	// node's messages are re-emitted.
	OutcomeReprompt FlowOutcome = "REPROMPT"
	// OutcomeTerminated: the session was already terminal; byte-for-byte no-op.
	OutcomeTerminated FlowOutcome = "TERMINATED"
	// OutcomeReplay: the event key was seen before; no-op.
	OutcomeReplay FlowOutcome = "REPLAY"
)

// FlowResult is what one HandleEvent call produced.
type FlowResult struct {
	Outcome      FlowOutcome          `json:"outcome"`
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []OutboundMessage    `json:"messages,omitempty"`
	Lottery      *LotteryOutcome      `json:"lottery,omitempty"`
}

// FlowService is the flow interpreter.
type FlowService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Sessions owns conversation state.
	Sessions *SessionStore
	// Lottery resolves LOTTERY nodes.
	Lottery *LotteryService
	// Sender, when set, receives emitted messages after the advance commits.
	Sender Sender
	// Clock stamps logs and dedupe records; nil means system UTC.
	Clock Clock

	// StoreTimeout bounds the store work of one event; zero disables it.
	StoreTimeout time.Duration
	// EventTTL is how long a processed event key blocks redelivery.
	EventTTL time.Duration

	locks *sessionLocks
}

// NewFlowService constructs a FlowService with sane defaults.
func NewFlowService(db *gorm.DB, sessions *SessionStore, lottery *LotteryService) *FlowService {
	return &FlowService{
		DB:           db,
		Sessions:     sessions,
		Lottery:      lottery,
		Clock:        SystemClock,
		StoreTimeout: 5 * time.Second,
		EventTTL:     24 * time.Hour,
		locks:        newSessionLocks(),
	}
}

func (s *FlowService) eventTTL() time.Duration {
	if s.EventTTL <= 0 {
		return 24 * time.Hour
	}
	return s.EventTTL
}

// HandleEvent processes one inbound chat event end to end and returns the
// messages to deliver. Recoverable conditions (duplicate delivery, terminal
// session, unroutable selection) are outcomes, not errors; returned errors
// are graph-integrity problems or store failures.
func (s *FlowService) HandleEvent(ctx context.Context, ev InboundEvent) (*FlowResult, error) {
	if ev.CampaignID == "" || ev.PrizeID == "" || ev.UserID == "" {
		return nil, ErrInvalidEvent
	}

	tr := otel.Tracer("services/FlowService")
	ctx, span := tr.Start(ctx, "HandleEvent",
		trace.WithAttributes(
			attribute.String("campaign.id", ev.CampaignID),
			attribute.String("prize.id", ev.PrizeID),
			attribute.String("user.id", ev.UserID),
		),
	)
	defer span.End()

	// Serialize same-session work; deliveryCtx survives the store deadline
	// so a slow store cannot cancel message delivery of a committed advance.
	unlock := s.locks.lock(ev.CampaignID + "/" + ev.PrizeID + "/" + ev.UserID)
	defer unlock()

	deliveryCtx := ctx
	if s.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.StoreTimeout)
		defer cancel()
	}

	now := clockOrSystem(s.Clock).Now()

	if ev.EventKey != "" {
		rec, err := repo.GetProcessedEvent(ctx, s.DB, ev.CampaignID, ev.PrizeID, ev.UserID, ev.EventKey, now)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return nil, mapStoreErr(err)
		}
		if rec != nil {
			sess, err := s.Sessions.GetOrCreate(ctx, ev.CampaignID, ev.PrizeID, ev.UserID)
			if err != nil {
				return nil, err
			}
			log.Info().
				Str("event_key", ev.EventKey).
				Str("conversation_id", sess.ID).
				Msg("duplicate event delivery ignored")
			flowEvents.WithLabelValues(string(OutcomeReplay)).Inc()
			return &FlowResult{Outcome: OutcomeReplay, Conversation: sess}, nil
		}
	}

	sess, err := s.Sessions.GetOrCreate(ctx, ev.CampaignID, ev.PrizeID, ev.UserID)
	if err != nil {
		return nil, err
	}
	if sess.Terminated() {
		log.Info().
			Str("conversation_id", sess.ID).
			Msg("event for terminated session ignored")
		flowEvents.WithLabelValues(string(OutcomeTerminated)).Inc()
		return &FlowResult{Outcome: OutcomeTerminated, Conversation: sess}, nil
	}

	snap, err := graph.Load(ctx, s.DB, ev.PrizeID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	res, err := s.step(ctx, snap, sess, ev, now)
	if err != nil {
		return nil, err
	}
	flowEvents.WithLabelValues(string(res.Outcome)).Inc()

	if s.Sender != nil && len(res.Messages) > 0 &&
		(res.Outcome == OutcomeAdvanced || res.Outcome == OutcomeCompleted || res.Outcome == OutcomeReprompt) {
		if serr := s.Sender.Send(deliveryCtx, ev.UserID, res.Messages); serr != nil {
			// The advance is already committed; delivery retries independently.
			log.Warn().
				Err(serr).
				Str("conversation_id", sess.ID).
				Int("messages", len(res.Messages)).
				Msg("message delivery failed after committed advance")
		}
	}
	return res, nil
}

// step computes and commits one transition. The caller holds the session lock.
func (s *FlowService) step(ctx context.Context, snap *graph.Snapshot, sess *domain.Conversation, ev InboundEvent, now time.Time) (*FlowResult, error) {
	patch := map[string]string{}
	var visited []domain.Node

	var cur domain.Node
	if sess.CurrentNodeID == nil {
		cur = snap.Entry()
		visited = append(visited, cur)
	} else {
		node, err := snap.Node(*sess.CurrentNodeID)
		if err != nil {
			return nil, &graph.IntegrityError{
				PrizeID: snap.PrizeID(),
				NodeID:  *sess.CurrentNodeID,
				Reason:  "session points at a node missing from the active graph",
			}
		}
		if node.Type == domain.NodeLottery {
			// An earlier event stopped on an unresolved draw; resume it.
			cur = node
		} else {
			edge, err := s.consume(snap, node, ev)
			if errors.Is(err, ErrUnroutableSelection) || errors.Is(err, ErrMissingSelection) {
				log.Warn().
					Str("conversation_id", sess.ID).
					Str("node_id", node.ID).
					Str("payload", ev.payload()).
					Msg("unroutable selection, re-prompting")
				return &FlowResult{
					Outcome:      OutcomeReprompt,
					Conversation: sess,
					Messages:     renderMessages(snap.MessagesOf(node.ID)),
				}, nil
			}
			if err != nil {
				return nil, err
			}
			if node.Type == domain.NodeSelectOption {
				patch[node.ID] = ev.payload()
			}
			next, err := snap.Node(edge.TargetNodeID)
			if err != nil {
				return nil, err // unreachable after load validation
			}
			cur = next
			visited = append(visited, cur)
		}
	}

	var lottery *LotteryOutcome
	for {
		if cur.Type == domain.NodeFirstTrigger && sess.CurrentNodeID == nil {
			// The first event advances through the trigger unconditionally.
			edge, err := s.soleEdge(snap, cur)
			if err != nil {
				return nil, err
			}
			next, err := snap.Node(edge.TargetNodeID)
			if err != nil {
				return nil, err
			}
			cur = next
			visited = append(visited, cur)
			continue
		}
		if cur.Type == domain.NodeLottery {
			prize, err := repo.GetPrize(ctx, s.DB, snap.PrizeID())
			if err != nil {
				return nil, mapStoreErr(err)
			}
			out, err := s.Lottery.Resolve(ctx, prize)
			if err != nil {
				return nil, err
			}
			lottery = &out
			edge, ok := outcomeEdge(snap.Outgoing(cur.ID), out.Condition())
			if !ok {
				return nil, &graph.IntegrityError{
					PrizeID: snap.PrizeID(),
					NodeID:  cur.ID,
					Reason:  "lottery node lacks a " + out.Condition() + " edge",
				}
			}
			next, err := snap.Node(edge.TargetNodeID)
			if err != nil {
				return nil, err
			}
			cur = next
			visited = append(visited, cur)
			continue
		}
		break
	}

	var msgs []OutboundMessage
	for _, n := range visited {
		msgs = append(msgs, renderMessages(snap.MessagesOf(n.ID))...)
	}

	terminal := snap.Terminal(cur)
	logEntries := make([]domain.ConversationMessage, 0, len(msgs)+1)
	inTS := ev.Timestamp
	if inTS.IsZero() {
		inTS = now
	}
	logEntries = append(logEntries, domain.ConversationMessage{
		IsFromUser:       true,
		Content:          sysutil.FirstNonEmpty(ev.SelectedOption, ev.Text),
		MessageTimestamp: inTS,
	})
	for _, m := range msgs {
		logEntries = append(logEntries, domain.ConversationMessage{
			IsFromUser:       false,
			Content:          m.Body,
			MessageTimestamp: now,
		})
	}

	nodeID := cur.ID
	upd := repo.AdvanceUpdate{
		CurrentNodeID:  &nodeID,
		SessionData:    MergeSessionData(sess.SessionData, patch),
		IsFirstTrigger: false,
		IsLastTrigger:  terminal,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.Sessions.Advance(ctx, tx, sess, upd, logEntries); err != nil {
			return err
		}
		if ev.EventKey != "" {
			_, err := repo.CreateProcessedEvent(ctx, tx, ev.CampaignID, ev.PrizeID, ev.UserID, ev.EventKey, nodeID, s.eventTTL(), now)
			if err != nil && !errors.Is(err, repo.ErrDuplicate) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}

	outcome := OutcomeAdvanced
	if terminal {
		outcome = OutcomeCompleted
	}
	return &FlowResult{
		Outcome:      outcome,
		Conversation: sess,
		Messages:     msgs,
		Lottery:      lottery,
	}, nil
}

// consume matches the inbound event against the current node and returns the
// edge to follow.
func (s *FlowService) consume(snap *graph.Snapshot, node domain.Node, ev InboundEvent) (domain.Edge, error) {
	switch node.Type {
	case domain.NodeSelectOption:
		value := ev.payload()
		if value == "" {
			return domain.Edge{}, ErrMissingSelection
		}
		edge, ok := snap.RouteSelection(node.ID, value)
		if !ok {
			return domain.Edge{}, ErrUnroutableSelection
		}
		return edge, nil
	case domain.NodeFirstTrigger, domain.NodeMessage, domain.NodeLotteryResult:
		// Any inbound event advances along the sole outgoing edge.
		return s.soleEdge(snap, node)
	default:
		return domain.Edge{}, ErrAmbiguousTransition
	}
}

// soleEdge returns the single unconditional edge leaving node.
func (s *FlowService) soleEdge(snap *graph.Snapshot, node domain.Node) (domain.Edge, error) {
	edges := snap.Outgoing(node.ID)
	switch len(edges) {
	case 0:
		return domain.Edge{}, ErrDeadEnd
	case 1:
		return edges[0], nil
	default:
		return domain.Edge{}, ErrAmbiguousTransition
	}
}

// outcomeEdge finds the edge whose condition matches a lottery result.
func outcomeEdge(edges []domain.Edge, condition string) (domain.Edge, bool) {
	for _, e := range edges {
		if graph.Normalize(e.ConditionData) == condition {
			return e, true
		}
	}
	return domain.Edge{}, false
}

// renderMessages resolves node messages into deliverable form.
func renderMessages(msgs []domain.Message) []OutboundMessage {
	out := make([]OutboundMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, OutboundMessage{
			NodeID:   m.NodeID,
			Type:     m.Type,
			Body:     m.Body,
			MediaURL: m.MediaURL,
			Buttons:  m.CardButtons,
			Options:  m.SelectOptions,
		})
	}
	return out
}
