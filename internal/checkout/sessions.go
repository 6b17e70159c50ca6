package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/imrishuroy/go-storefront-orderflow/internal/cache"
	"github.com/imrishuroy/go-storefront-orderflow/internal/cart"
	"github.com/imrishuroy/go-storefront-orderflow/internal/payment"
)

// heldCard keeps raw card details for the workflow that entered them.
type heldCard struct {
	workflowID string
	details    payment.Details
	touched    time.Time
}

// Sessions keeps one checkout workflow per browsing session. Workflow state
// lives in the cache so any instance can serve the next step. Card details
// never leave the process that received them and are forgotten after
// idleTTL; an instance without them asks for them again at place-order.
//
// Concurrent requests for the same session rebuild the workflow
// independently and the last Save wins.
type Sessions struct {
	deps    *Deps
	carts   cart.Store
	states  cache.Cache
	idleTTL time.Duration

	mu    sync.Mutex
	cards map[string]heldCard
}

func NewSessions(deps *Deps, carts cart.Store, states cache.Cache, idleTTL time.Duration) *Sessions {
	deps.defaults()
	return &Sessions{
		deps:    deps,
		carts:   carts,
		states:  states,
		idleTTL: idleTTL,
		cards:   map[string]heldCard{},
	}
}

// Get rebuilds the workflow of sessionID from its stored state, or starts a
// new one over the session's cart.
func (s *Sessions) Get(ctx context.Context, sessionID string) (*Workflow, error) {
	c, err := cart.Open(ctx, s.carts, sessionID)
	if err != nil {
		return nil, err
	}
	st, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var wf *Workflow
	if st == nil {
		wf = New(c, s.deps)
	} else {
		wf = Restore(c, s.deps, *st)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.deps.Now()
	s.prune(now)
	if h, ok := s.cards[sessionID]; ok && h.workflowID == wf.id {
		wf.payment = h.details
		h.touched = now
		s.cards[sessionID] = h
	}
	return wf, nil
}

// Save stores the state of wf for sessionID.
func (s *Sessions) Save(ctx context.Context, sessionID string, wf *Workflow) error {
	st, card := wf.snapshot()

	s.mu.Lock()
	if card.CardNumber == "" {
		delete(s.cards, sessionID)
	} else {
		s.cards[sessionID] = heldCard{workflowID: st.ID, details: card, touched: s.deps.Now()}
	}
	s.mu.Unlock()

	b, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal checkout state: %w", err)
	}
	if err := s.states.Set(ctx, s.key(sessionID), string(b), s.idleTTL); err != nil {
		return fmt.Errorf("save checkout state: %w", err)
	}
	return nil
}

// Drop forgets the workflow of sessionID.
func (s *Sessions) Drop(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.cards, sessionID)
	s.mu.Unlock()
	return s.states.Delete(ctx, s.key(sessionID))
}

func (s *Sessions) load(ctx context.Context, sessionID string) (*State, error) {
	raw, err := s.states.Get(ctx, s.key(sessionID))
	if err != nil {
		return nil, fmt.Errorf("load checkout state: %w", err)
	}
	if raw == "" {
		return nil, nil
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkout state: %w", err)
	}
	return &st, nil
}

func (s *Sessions) key(sessionID string) string {
	return s.states.GenerateKey("checkout", sessionID)
}

func (s *Sessions) prune(now time.Time) {
	if s.idleTTL <= 0 {
		return
	}
	for id, h := range s.cards {
		if now.Sub(h.touched) > s.idleTTL {
			delete(s.cards, id)
		}
	}
}
