// Package graph provides a read-only, concurrency-safe snapshot of one
// prize's conversation graph, loaded from relational rows into an index keyed
// by node id. It is intentionally small and free of business logic:
//
//   - No logging in the library (callers decide how/what to log)
//   - Immutable after construction (safe for concurrent use)
//   - Deterministic ordering everywhere (templates by step, messages by
//     display order, edges by id)
//   - Integrity validated at load time: dangling or cross-prize references,
//     unknown enum values, dead ends outside END templates, lottery nodes
//     missing an outcome edge, and ambiguous or uncovered select options are
//     reported before any event is processed
//
// The engine never follows object pointers between Template/Node/Edge rows;
// all traversal goes through the snapshot's indexes (arena+index pattern).
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
)

// ErrNotFound is returned when an id does not resolve within the snapshot.
var ErrNotFound = errors.New("graph: not found")

// IntegrityError reports a structural defect in a prize's graph. It is fatal
// for the affected campaign: the flow halts the session and the error is
// surfaced to the campaign operator, never retried.
type IntegrityError struct {
	PrizeID string
	NodeID  string
	Reason  string
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("graph integrity: prize %s: %s", e.PrizeID, e.Reason)
	}
	return fmt.Sprintf("graph integrity: prize %s node %s: %s", e.PrizeID, e.NodeID, e.Reason)
}

// Normalize canonicalizes chat-channel text for matching and storage: NFKC
// folds full-width/half-width variants (common in Instagram campaign input),
// and surrounding whitespace is dropped. Select-option values and inbound
// payloads are both passed through here so equality is exact on the
// normalized form.
func Normalize(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// Snapshot is an immutable, indexed view of one prize's graph.
type Snapshot struct {
	prizeID   string
	templates []domain.Template          // active, ordered by step
	byID      map[string]domain.Node     // node id -> node
	tmplByID  map[string]domain.Template // template id -> template
	outgoing  map[string][]domain.Edge   // source node id -> edges
	messages  map[string][]domain.Message
	entry     string // entry node id
}

// Load reads the active graph of prizeID and validates it. The returned
// snapshot is safe for concurrent use and must not be retained across graph
// edits (reload per processing request or cache with invalidation upstream).
func Load(ctx context.Context, db *gorm.DB, prizeID string) (*Snapshot, error) {
	templates, err := repo.ListActiveTemplates(ctx, db, prizeID)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, &IntegrityError{PrizeID: prizeID, Reason: "no active templates"}
	}

	nodes, err := repo.ListNodes(ctx, db, prizeID)
	if err != nil {
		return nil, err
	}
	edges, err := repo.ListEdges(ctx, db, prizeID)
	if err != nil {
		return nil, err
	}
	msgs, err := repo.ListMessages(ctx, db, prizeID)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		prizeID:   prizeID,
		templates: templates,
		byID:      make(map[string]domain.Node, len(nodes)),
		tmplByID:  make(map[string]domain.Template, len(templates)),
		outgoing:  make(map[string][]domain.Edge, len(nodes)),
		messages:  make(map[string][]domain.Message),
	}
	for _, t := range templates {
		s.tmplByID[t.ID] = t
	}
	for _, n := range nodes {
		if _, ok := s.tmplByID[n.TemplateID]; !ok {
			// Node of an inactive template; invisible to the engine.
			continue
		}
		s.byID[n.ID] = n
	}
	for _, e := range edges {
		s.outgoing[e.SourceNodeID] = append(s.outgoing[e.SourceNodeID], e)
	}
	for _, m := range msgs {
		s.messages[m.NodeID] = append(s.messages[m.NodeID], m)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// PrizeID returns the prize this snapshot belongs to.
func (s *Snapshot) PrizeID() string { return s.prizeID }

// Templates returns the active templates in execution order.
func (s *Snapshot) Templates() []domain.Template { return s.templates }

// Node resolves a node id within the snapshot. A reference to a node of a
// different prize (or an inactive template) yields ErrNotFound; the caller
// reports it as a data integrity problem rather than silently ignoring it.
func (s *Snapshot) Node(id string) (domain.Node, error) {
	n, ok := s.byID[id]
	if !ok {
		return domain.Node{}, ErrNotFound
	}
	return n, nil
}

// TemplateOf returns the template owning the node.
func (s *Snapshot) TemplateOf(n domain.Node) domain.Template {
	return s.tmplByID[n.TemplateID]
}

// Outgoing returns the edges leaving the node, in stable order.
func (s *Snapshot) Outgoing(nodeID string) []domain.Edge {
	return s.outgoing[nodeID]
}

// MessagesOf returns the node's messages ordered by display order, with card
// buttons and select options populated.
func (s *Snapshot) MessagesOf(nodeID string) []domain.Message {
	return s.messages[nodeID]
}

// Entry returns the node where fresh sessions start: the single edge-less
// entry of the lowest-step active template.
func (s *Snapshot) Entry() domain.Node {
	return s.byID[s.entry]
}

// Terminal reports whether the node ends the flow: it belongs to an END
// template and has no outgoing edges.
func (s *Snapshot) Terminal(n domain.Node) bool {
	return s.TemplateOf(n).Type == domain.TemplateEnd && len(s.outgoing[n.ID]) == 0
}

// RouteSelection matches a normalized selected-option value against the
// outgoing edges of a MESSAGE_SELECT_OPTION node. The designated fallback
// edge is used when no condition matches. ok is false when the value is
// unroutable.
func (s *Snapshot) RouteSelection(nodeID, value string) (edge domain.Edge, ok bool) {
	value = Normalize(value)
	var fallback *domain.Edge
	for _, e := range s.outgoing[nodeID] {
		if e.IsFallback {
			ev := e
			fallback = &ev
			continue
		}
		if Normalize(e.ConditionData) == value {
			return e, true
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return domain.Edge{}, false
}

// optionValues collects the normalized option values reachable at a select
// node, in display order.
func (s *Snapshot) optionValues(nodeID string) []string {
	var vals []string
	for _, m := range s.messages[nodeID] {
		if m.Type != domain.MessageSelect {
			continue
		}
		for _, o := range m.SelectOptions {
			vals = append(vals, Normalize(o.Value))
		}
	}
	return vals
}

// validate enforces the structural invariants the interpreter relies on.
func (s *Snapshot) validate() error {
	first := s.templates[0]
	if first.StepOrder != 0 {
		return &IntegrityError{PrizeID: s.prizeID, Reason: fmt.Sprintf("first active template %s has step_order %d, want 0", first.ID, first.StepOrder)}
	}
	for _, t := range s.templates {
		if !t.Type.Valid() {
			return &IntegrityError{PrizeID: s.prizeID, Reason: fmt.Sprintf("template %s has unknown type %q", t.ID, t.Type)}
		}
	}

	for id, n := range s.byID {
		if !n.Type.Valid() {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: id, Reason: fmt.Sprintf("unknown node type %q", n.Type)}
		}
		if n.PrizeID != s.prizeID {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: id, Reason: "node belongs to a different prize"}
		}

		// Dead ends are legal only at the end of an END template.
		if len(s.outgoing[id]) == 0 && s.tmplByID[n.TemplateID].Type != domain.TemplateEnd {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: id, Reason: "no outgoing edges outside an END template"}
		}

		for _, m := range s.messages[id] {
			if !m.Type.Valid() {
				return &IntegrityError{PrizeID: s.prizeID, NodeID: id, Reason: fmt.Sprintf("message %s has unknown type %q", m.ID, m.Type)}
			}
		}

		if n.Type == domain.NodeSelectOption {
			if err := s.validateSelectNode(id); err != nil {
				return err
			}
		}
		if n.Type == domain.NodeLottery {
			if err := s.validateLotteryNode(id); err != nil {
				return err
			}
		}
	}

	for _, edges := range s.outgoing {
		for _, e := range edges {
			if e.PrizeID != s.prizeID {
				return &IntegrityError{PrizeID: s.prizeID, NodeID: e.SourceNodeID, Reason: fmt.Sprintf("edge %s belongs to a different prize", e.ID)}
			}
			if _, ok := s.byID[e.SourceNodeID]; !ok {
				return &IntegrityError{PrizeID: s.prizeID, NodeID: e.SourceNodeID, Reason: fmt.Sprintf("edge %s has dangling source", e.ID)}
			}
			if _, ok := s.byID[e.TargetNodeID]; !ok {
				return &IntegrityError{PrizeID: s.prizeID, NodeID: e.SourceNodeID, Reason: fmt.Sprintf("edge %s has dangling target %s", e.ID, e.TargetNodeID)}
			}
		}
	}

	return s.resolveEntry()
}

// validateSelectNode checks that the outgoing edges of a select node
// partition its option space: every reachable option value maps to exactly
// one edge, unless a single designated fallback edge covers the rest.
func (s *Snapshot) validateSelectNode(nodeID string) error {
	seen := make(map[string]string) // normalized condition -> edge id
	fallbacks := 0
	for _, e := range s.outgoing[nodeID] {
		if e.IsFallback {
			fallbacks++
			continue
		}
		cond := Normalize(e.ConditionData)
		if cond == "" {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: fmt.Sprintf("edge %s on select node has empty condition", e.ID)}
		}
		if prev, dup := seen[cond]; dup {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: fmt.Sprintf("edges %s and %s both match option %q", prev, e.ID, cond)}
		}
		seen[cond] = e.ID
	}
	if fallbacks > 1 {
		return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: "multiple fallback edges"}
	}
	if fallbacks == 1 {
		return nil
	}
	for _, v := range s.optionValues(nodeID) {
		if _, ok := seen[v]; !ok {
			return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: fmt.Sprintf("option %q has no matching edge and no fallback exists", v)}
		}
	}
	return nil
}

// validateLotteryNode checks that a lottery node routes both outcomes. A
// missing outcome edge must fail at load: the draw would otherwise consume a
// quota slot before the interpreter discovers there is nowhere to go.
func (s *Snapshot) validateLotteryNode(nodeID string) error {
	var won, lost int
	for _, e := range s.outgoing[nodeID] {
		switch Normalize(e.ConditionData) {
		case domain.ConditionWon:
			won++
		case domain.ConditionLost:
			lost++
		default:
			return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: fmt.Sprintf("edge %s on lottery node has condition %q, want WON or LOST", e.ID, e.ConditionData)}
		}
	}
	if won != 1 || lost != 1 {
		return &IntegrityError{PrizeID: s.prizeID, NodeID: nodeID, Reason: fmt.Sprintf("lottery node needs exactly one WON and one LOST edge, has %d and %d", won, lost)}
	}
	return nil
}

// resolveEntry finds the unique edge-less entry node of the first template.
func (s *Snapshot) resolveEntry() error {
	incoming := make(map[string]int)
	for _, edges := range s.outgoing {
		for _, e := range edges {
			incoming[e.TargetNodeID]++
		}
	}

	first := s.templates[0]
	var candidates []string
	for id, n := range s.byID {
		if n.TemplateID == first.ID && incoming[id] == 0 {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) != 1 {
		return &IntegrityError{PrizeID: s.prizeID, Reason: fmt.Sprintf("expected exactly one entry node in template %s, found %d", first.ID, len(candidates))}
	}
	s.entry = candidates[0]
	return nil
}
