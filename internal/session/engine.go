// Package session implements the stateful probing protocol: a client
// submits one probe at a time, narrowing a candidate set of images until
// exactly one remains or the set collapses to none. Session state lives
// in a process-local, concurrent map keyed by a random session id, with
// entries expired on a TTL rather than persisted.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/probefind/pkg/models"
)

// CandidateFinder resolves a probe to the set of matching image ids. The
// concrete implementation (wired in internal/api) resolves the probe's
// value type in the feature store and runs internal/match's
// fixed-threshold lookup.
type CandidateFinder interface {
	FindCandidates(ctx context.Context, probe models.Probe) ([]int64, error)
}

// NextQuestionProvider proposes the next unasked descriptor for a session.
// Returns (nil, nil) when exhausted.
type NextQuestionProvider interface {
	NextQuestion(ctx context.Context, sess *models.Session) (*models.Descriptor, error)
}

// ErrSessionNotFound maps to a 404 at the API boundary.
var ErrSessionNotFound = fmt.Errorf("session: not found")

// ErrEmptyIntersection signals the session ended in NO_MATCH because a
// refinement disagreed with the existing candidate set.
var ErrEmptyIntersection = fmt.Errorf("session: empty intersection")

// Engine owns the in-memory session table. Multiple sessions progress
// concurrently; a single session's refinements must be processed in
// arrival order by the caller — Engine serializes access to one session's
// state internally but does not queue concurrent refinements for the same
// id beyond mutual exclusion.
type Engine struct {
	finder  CandidateFinder
	advisor NextQuestionProvider
	ttl     time.Duration

	mu       sync.Mutex
	sessions map[string]*models.Session

	stopCh chan struct{}
}

func NewEngine(finder CandidateFinder, advisor NextQuestionProvider, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	e := &Engine{
		finder:   finder,
		advisor:  advisor,
		ttl:      ttl,
		sessions: make(map[string]*models.Session),
		stopCh:   make(chan struct{}),
	}
	go e.expireLoop()
	return e
}

func (e *Engine) Stop() { close(e.stopCh) }

func (e *Engine) expireLoop() {
	ticker := time.NewTicker(e.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-e.ttl)
			e.mu.Lock()
			for id, s := range e.sessions {
				if s.LastTouchedAt.Before(cutoff) {
					delete(e.sessions, id)
				}
			}
			e.mu.Unlock()
		}
	}
}

// Outcome is the result of Start/Refine, shaped to map directly onto the
// HTTP response.
type Outcome struct {
	Status       models.SessionStatus
	SessionID    string // empty unless CANDIDATES_FOUND
	ImageID      int64  // set when MATCH_FOUND
	Candidates   []int64
	Constellation []models.ConstellationStep
}

// Start runs the first probe of a new session. Zero candidates never
// allocates a session id.
func (e *Engine) Start(ctx context.Context, probe models.Probe) (Outcome, error) {
	candidates, err := e.finder.FindCandidates(ctx, probe)
	if err != nil {
		return Outcome{}, err
	}

	switch len(candidates) {
	case 0:
		return Outcome{Status: models.StatusNoMatch}, nil
	case 1:
		return Outcome{Status: models.StatusMatchFound, ImageID: candidates[0]}, nil
	default:
		id := uuid.NewString()
		sess := models.NewSession(id, candidates, probe)
		sess.AppendStep(models.ConstellationStep{
			DescriptorHash: probe.DescriptorHash(),
			CandidateCount: len(candidates),
			RelX:           probe.RelX,
			RelY:           probe.RelY,
			Size:           probe.Size,
			AccuracyScore:  1.0 / float64(len(candidates)),
		})
		e.mu.Lock()
		e.sessions[id] = sess
		e.mu.Unlock()
		return Outcome{Status: models.StatusCandidatesFound, SessionID: id, Candidates: candidates, Constellation: sess.ConstellationPath}, nil
	}
}

// Refine intersects a new probe's candidates with the session's existing
// set. The candidate set can only shrink or stay the same across
// refinements, which falls directly out of intersecting with the prior
// set rather than replacing it. An empty intersection surfaces NO_MATCH
// and deletes the session rather than silently rolling back.
func (e *Engine) Refine(ctx context.Context, sessionID string, probe models.Probe) (Outcome, error) {
	e.mu.Lock()
	sess, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return Outcome{}, ErrSessionNotFound
	}

	fresh, err := e.finder.FindCandidates(ctx, probe)
	if err != nil {
		return Outcome{}, err
	}

	freshSet := make(map[int64]bool, len(fresh))
	for _, id := range fresh {
		freshSet[id] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok = e.sessions[sessionID]
	if !ok {
		return Outcome{}, ErrSessionNotFound
	}

	intersected := make([]int64, 0, len(sess.CandidateIDs))
	for _, id := range sess.CandidateIDs {
		if freshSet[id] {
			intersected = append(intersected, id)
		}
	}

	sess.CandidateIDs = intersected
	sess.LastProbe = probe
	sess.MarkAsked(probe.DescriptorHash())
	sess.LastTouchedAt = time.Now()

	accuracy := 0.0
	if len(intersected) > 0 {
		accuracy = 1.0 / float64(len(intersected))
	}
	sess.AppendStep(models.ConstellationStep{
		DescriptorHash: probe.DescriptorHash(),
		CandidateCount: len(intersected),
		RelX:           probe.RelX,
		RelY:           probe.RelY,
		Size:           probe.Size,
		AccuracyScore:  accuracy,
	})

	switch len(intersected) {
	case 0:
		delete(e.sessions, sessionID)
		return Outcome{Status: models.StatusNoMatch, Constellation: sess.ConstellationPath}, nil
	case 1:
		delete(e.sessions, sessionID)
		return Outcome{Status: models.StatusMatchFound, ImageID: intersected[0], Constellation: sess.ConstellationPath}, nil
	default:
		e.sessions[sessionID] = sess
		return Outcome{Status: models.StatusCandidatesFound, SessionID: sessionID, Candidates: intersected, Constellation: sess.ConstellationPath}, nil
	}
}

// NextQuestion proposes an unasked descriptor for the session. Returns
// (nil, nil) — not an error — when exhausted.
func (e *Engine) NextQuestion(ctx context.Context, sessionID string) (*models.Descriptor, error) {
	e.mu.Lock()
	live, ok := e.sessions[sessionID]
	var sess models.Session
	if ok {
		sess = *live
		sess.AskedDescriptorHashes = make(map[string]bool, len(live.AskedDescriptorHashes))
		for h := range live.AskedDescriptorHashes {
			sess.AskedDescriptorHashes[h] = true
		}
	}
	e.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	d, err := e.advisor.NextQuestion(ctx, &sess)
	if err != nil {
		return nil, err
	}
	// Never hand back something already asked, regardless of what the
	// advisor returned.
	if d != nil && sess.HasAsked(d.Hash()) {
		return nil, nil
	}
	return d, nil
}

// Get returns the current session state, for API layers that need to
// inspect it without mutating (e.g. health/debug endpoints).
func (e *Engine) Get(sessionID string) (*models.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessions[sessionID]
	return s, ok
}

// End explicitly terminates a session, e.g. on client abandon.
func (e *Engine) End(sessionID string) {
	e.mu.Lock()
	delete(e.sessions, sessionID)
	e.mu.Unlock()
}

// Count reports the number of live sessions, for /health.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}
