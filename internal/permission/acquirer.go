package permission

import (
	"errors"
	"log"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// State is the acquisition state machine position.
type State string

const (
	StateIdle                      State = "idle"
	StateEvaluating                State = "evaluating"
	StateRequestingSilent          State = "requesting_silent"
	StateAwaitingRationaleDecision State = "awaiting_rationale_decision"
	StateRequestingWithRationale   State = "requesting_with_rationale"
	StateResolved                  State = "resolved"
)

func (s State) active() bool {
	switch s {
	case StateEvaluating, StateRequestingSilent, StateAwaitingRationaleDecision, StateRequestingWithRationale:
		return true
	default:
		return false
	}
}

// ErrNoRationalePending is returned when a rationale decision arrives outside AwaitingRationaleDecision.
var ErrNoRationalePending = errors.New("no rationale page pending")

// Platform is the permission subsystem the acquirer drives.
// RequestBatch must invoke done exactly once; a missing entry counts as denied.
type Platform interface {
	GrantChecker
	RationaleChecker
	Version() int
	RequestBatch(perms []Permission, done func(results map[Permission]bool))
}

// Aborter is implemented by platforms that can withdraw an outstanding request.
// A withdrawn request never invokes its callback.
type Aborter interface {
	Abort()
}

// Outcome is the capability level a session ended with.
type Outcome struct {
	SessionID      string       `json:"session_id"`
	Granted        []Permission `json:"granted"`
	Denied         []Permission `json:"denied"`
	CaptureAllowed bool         `json:"capture_allowed"`
}

// Status is a point-in-time view of the acquirer for presentation.
type Status struct {
	State     State        `json:"state"`
	SessionID string       `json:"session_id,omitempty"`
	Page      []Permission `json:"page,omitempty"`
	PageIndex int          `json:"page_index"`
	PageCount int          `json:"page_count"`
	Requests  int          `json:"requests"`
	Outcome   *Outcome     `json:"outcome,omitempty"`
}

type session struct {
	id        string
	reqs      []Requirement
	results   map[Permission]bool
	attempted map[Permission]struct{}
	pages     [][]Permission
	pageIndex int
	requests  int
	inflight  uint64
}

// AcquirerOption customises an Acquirer.
type AcquirerOption func(*Acquirer)

// WithLogger overrides the acquirer logger.
func WithLogger(logger *log.Logger) AcquirerOption {
	return func(a *Acquirer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Acquirer sequences permission requests: one silent batch, then one request per
// acknowledged rationale page. Each permission is requested at most once per session.
type Acquirer struct {
	catalog  *Catalog
	platform Platform
	logger   *log.Logger

	mu        sync.Mutex
	state     State
	gen       uint64
	nextReq   uint64
	sess      *session
	last      *Outcome
	listeners []func(Outcome)
}

// NewAcquirer constructs an idle acquirer.
func NewAcquirer(catalog *Catalog, platform Platform, opts ...AcquirerOption) *Acquirer {
	a := &Acquirer{
		catalog:  catalog,
		platform: platform,
		logger:   log.New(os.Stdout, "[permission] ", log.LstdFlags|log.Lshortfile),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnResolved registers fn to run after every session resolves.
func (a *Acquirer) OnResolved(fn func(Outcome)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// Status returns the current state.
func (a *Acquirer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Status{State: a.state}
	if a.last != nil {
		out := *a.last
		st.Outcome = &out
	}
	if s := a.sess; s != nil {
		st.SessionID = s.id
		st.PageIndex = s.pageIndex
		st.PageCount = len(s.pages)
		st.Requests = s.requests
		if a.state == StateAwaitingRationaleDecision && s.pageIndex < len(s.pages) {
			st.Page = slices.Clone(s.pages[s.pageIndex])
		}
	}
	return st
}

// Enable starts a session. It returns the active session id and whether a new
// session was created; an intent arriving mid-session joins the existing one.
func (a *Acquirer) Enable() (string, bool) {
	a.mu.Lock()
	if a.state.active() {
		id := a.sess.id
		a.mu.Unlock()
		enableCoalesced.Inc()
		return id, false
	}
	a.gen++
	gen := a.gen
	s := &session{
		id:        uuid.NewString(),
		results:   make(map[Permission]bool),
		attempted: make(map[Permission]struct{}),
	}
	a.sess = s
	a.state = StateEvaluating
	a.mu.Unlock()

	version := a.platform.Version()
	reqs := a.catalog.RequirementsFor(version)
	ev := Evaluate(a.catalog, version, a.platform, a.platform)

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		return s.id, true
	}
	s.reqs = reqs
	for _, r := range reqs {
		s.results[r.Permission] = true
	}
	for _, p := range ev.Silent {
		s.results[p] = false
	}
	for _, p := range ev.Rationale {
		s.results[p] = false
	}
	a.logger.Printf("session %s: platform %d, %d silent, %d rationale", s.id, version, len(ev.Silent), len(ev.Rationale))

	if len(ev.Silent) == 0 {
		// Nothing to ask silently; the initial evaluation already holds the rationale set.
		a.state = StateRequestingSilent
		a.mu.Unlock()
		a.afterSilent(gen, 0, nil, &ev)
		return s.id, true
	}
	a.state = StateRequestingSilent
	reqID := a.beginRequestLocked(s, ev.Silent)
	a.mu.Unlock()

	a.request(gen, reqID, ev.Silent, a.afterSilent)
	return s.id, true
}

// Acknowledge requests the permissions on the active rationale page.
func (a *Acquirer) Acknowledge() error {
	a.mu.Lock()
	if a.state != StateAwaitingRationaleDecision {
		a.mu.Unlock()
		return ErrNoRationalePending
	}
	s := a.sess
	page := slices.Clone(s.pages[s.pageIndex])
	a.state = StateRequestingWithRationale
	reqID := a.beginRequestLocked(s, page)
	gen := a.gen
	a.mu.Unlock()

	a.request(gen, reqID, page, func(gen, reqID uint64, results map[Permission]bool, _ *Evaluation) {
		a.afterRationale(gen, reqID, results)
	})
	return nil
}

// Decline skips the active rationale page; its permissions stay denied for the session.
func (a *Acquirer) Decline() error {
	a.mu.Lock()
	if a.state != StateAwaitingRationaleDecision {
		a.mu.Unlock()
		return ErrNoRationalePending
	}
	s := a.sess
	for _, p := range s.pages[s.pageIndex] {
		s.attempted[p] = struct{}{}
	}
	s.pageIndex++
	fire := a.advanceLocked(s)
	a.mu.Unlock()
	fire()
	return nil
}

// Cancel discards the active session. A platform callback still in flight is ignored.
func (a *Acquirer) Cancel() bool {
	a.mu.Lock()
	if !a.state.active() {
		a.mu.Unlock()
		return false
	}
	a.logger.Printf("session %s cancelled in state %s", a.sess.id, a.state)
	inflight := a.sess.inflight != 0
	a.gen++
	a.sess = nil
	a.state = StateIdle
	sessionsFinished.WithLabelValues("cancelled").Inc()
	a.mu.Unlock()

	if aborter, ok := a.platform.(Aborter); ok && inflight {
		aborter.Abort()
	}
	return true
}

func (a *Acquirer) beginRequestLocked(s *session, perms []Permission) uint64 {
	for _, p := range perms {
		s.attempted[p] = struct{}{}
	}
	s.requests++
	a.nextReq++
	s.inflight = a.nextReq
	platformRequests.Inc()
	return s.inflight
}

func (a *Acquirer) request(gen, reqID uint64, perms []Permission, next func(gen, reqID uint64, results map[Permission]bool, ev *Evaluation)) {
	a.platform.RequestBatch(slices.Clone(perms), func(results map[Permission]bool) {
		next(gen, reqID, results, nil)
	})
}

// current reports whether the callback belongs to the live session and request.
func (a *Acquirer) currentLocked(gen, reqID uint64) bool {
	if a.gen != gen || a.sess == nil {
		return false
	}
	return reqID == 0 || a.sess.inflight == reqID
}

func (a *Acquirer) afterSilent(gen, reqID uint64, results map[Permission]bool, ev *Evaluation) {
	a.mu.Lock()
	if !a.currentLocked(gen, reqID) || a.state != StateRequestingSilent {
		a.mu.Unlock()
		staleCallbacks.Inc()
		return
	}
	s := a.sess
	s.inflight = 0
	applyResults(s, results)
	a.mu.Unlock()

	if ev == nil {
		fresh := Evaluate(a.catalog, a.platform.Version(), a.platform, a.platform)
		ev = &fresh
	}

	a.mu.Lock()
	if !a.currentLocked(gen, 0) || a.state != StateRequestingSilent {
		a.mu.Unlock()
		return
	}
	pending := make([]Permission, 0, len(ev.Rationale))
	for _, p := range ev.Rationale {
		if _, tried := s.attempted[p]; tried {
			continue
		}
		if _, known := s.results[p]; !known {
			continue
		}
		pending = append(pending, p)
	}
	s.pages = a.catalog.Pages(pending)
	s.pageIndex = 0
	fire := a.advanceLocked(s)
	a.mu.Unlock()
	fire()
}

func (a *Acquirer) afterRationale(gen, reqID uint64, results map[Permission]bool) {
	a.mu.Lock()
	if !a.currentLocked(gen, reqID) || a.state != StateRequestingWithRationale {
		a.mu.Unlock()
		staleCallbacks.Inc()
		return
	}
	s := a.sess
	s.inflight = 0
	applyResults(s, results)
	s.pageIndex++
	fire := a.advanceLocked(s)
	a.mu.Unlock()
	fire()
}

// advanceLocked moves to the next rationale page or resolves. The returned
// func notifies listeners and must run after the lock is released.
func (a *Acquirer) advanceLocked(s *session) func() {
	if s.pageIndex < len(s.pages) {
		a.state = StateAwaitingRationaleDecision
		return func() {}
	}
	out := outcomeOf(s)
	a.state = StateResolved
	a.last = &out
	listeners := slices.Clone(a.listeners)
	label := "capture_blocked"
	if out.CaptureAllowed {
		label = "capture_allowed"
	}
	sessionsFinished.WithLabelValues(label).Inc()
	a.logger.Printf("session %s resolved: %d granted, %d denied, capture allowed=%t", s.id, len(out.Granted), len(out.Denied), out.CaptureAllowed)
	return func() {
		for _, fn := range listeners {
			fn(out)
		}
	}
}

func applyResults(s *session, results map[Permission]bool) {
	for p, granted := range results {
		if _, known := s.results[p]; known && granted {
			s.results[p] = true
		}
	}
}

func outcomeOf(s *session) Outcome {
	out := Outcome{SessionID: s.id, CaptureAllowed: true}
	for _, r := range s.reqs {
		if s.results[r.Permission] {
			out.Granted = append(out.Granted, r.Permission)
			continue
		}
		out.Denied = append(out.Denied, r.Permission)
		if r.Essential {
			out.CaptureAllowed = false
		}
	}
	return out
}
