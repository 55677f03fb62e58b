package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-document-verifier/extraction"
	"go-document-verifier/images"
	"go-document-verifier/models"
)

// SessionState is the single tagged state of a verification session. Using
// one value instead of independent flags rules out invalid combinations
// like "loading while showing a stale result".
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateDispatched SessionState = "dispatched"
	StateSucceeded  SessionState = "succeeded"
	StateFailed     SessionState = "failed"
)

// The user-visible message for any failed attempt. Network, auth and
// malformed-completion failures are deliberately indistinguishable here;
// the logs keep the real cause.
const GenericExtractionError = "extraction failed"

// ErrNoImageSelected is returned when verification is requested without an
// image present. It is recovered locally and does not touch any prior
// result.
var ErrNoImageSelected = errors.New("no image selected")

// ErrAttemptInProgress rejects a dispatch (or an image change) while an
// attempt is already in flight for the session.
var ErrAttemptInProgress = errors.New("a verification attempt is already in progress")

// ErrUnknownSession is returned for session ids the store has never seen.
var ErrUnknownSession = errors.New("unknown session")

// VerificationSession holds the transient state for one user's flow:
// the currently selected image plus the outcome of the last attempt.
// Nothing in here is ever persisted, and the session lives at most as
// long as its nonce token.
type VerificationSession struct {
	mu     sync.Mutex
	state  SessionState
	image  images.RawImage
	result *models.ExtractionResult
	errMsg string

	expiresAt time.Time
}

// SessionSnapshot is a copy of the observable session state, safe to hand
// out without holding the session lock.
type SessionSnapshot struct {
	State    SessionState
	HasImage bool
	Result   *models.ExtractionResult
	ErrMsg   string
}

// SessionStore owns the sessions and runs the extraction pipeline. Each
// session's state is private to it; the store-level lock only guards the
// map itself.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*VerificationSession

	variant extraction.Variant
	client  InferenceClient
	now     func() time.Time
}

func NewSessionStore(variant extraction.Variant, client InferenceClient) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*VerificationSession),
		variant:  variant,
		client:   client,
		now:      time.Now,
	}
}

// CreateSession registers a fresh Idle session under the given id. The
// session expires together with its nonce token; expired sessions are
// swept here so the map cannot grow past the set of live flows.
func (st *SessionStore) CreateSession(sessionId string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	for id, s := range st.sessions {
		if now.After(s.expiresAt) {
			delete(st.sessions, id)
		}
	}

	st.sessions[sessionId] = &VerificationSession{
		state:     StateIdle,
		expiresAt: now.Add(tokenTTL),
	}
}

// RemoveSession drops the session and the image bytes it holds. Called
// when a flow completes so documents do not outlive their attempt.
func (st *SessionStore) RemoveSession(sessionId string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, sessionId)
}

func (st *SessionStore) get(sessionId string) (*VerificationSession, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sessionId]
	if !ok {
		return nil, ErrUnknownSession
	}
	if st.now().After(s.expiresAt) {
		delete(st.sessions, sessionId)
		return nil, ErrUnknownSession
	}
	return s, nil
}

// SetImage replaces the session's image and resets it to Idle, discarding
// any prior result or error. Rejected while an attempt is in flight.
func (st *SessionStore) SetImage(sessionId string, raw images.RawImage) error {
	s, err := st.get(sessionId)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDispatched {
		return ErrAttemptInProgress
	}

	s.image = raw
	s.state = StateIdle
	s.result = nil
	s.errMsg = ""
	slog.Debug("Session image replaced", "session_id", sessionId, "filename", raw.Filename, "mime_type", raw.MIMEType, "size", len(raw.Data))
	return nil
}

// Snapshot returns a copy of the session's observable state.
func (st *SessionStore) Snapshot(sessionId string) (SessionSnapshot, error) {
	s, err := st.get(sessionId)
	if err != nil {
		return SessionSnapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionSnapshot{
		State:    s.state,
		HasImage: !s.image.IsEmpty(),
		Result:   s.result,
		ErrMsg:   s.errMsg,
	}, nil
}

// StartVerification runs one full attempt for the session's current image:
// encode, build the extraction request, call the model, parse the
// completion. The session moves Idle -> Dispatched -> Succeeded/Failed;
// re-dispatch while Dispatched is rejected, and a missing image is a local
// user-input error that leaves prior state untouched.
func (st *SessionStore) StartVerification(ctx context.Context, sessionId string) (models.ExtractionResult, error) {
	s, err := st.get(sessionId)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	s.mu.Lock()
	if s.state == StateDispatched {
		s.mu.Unlock()
		return models.ExtractionResult{}, ErrAttemptInProgress
	}
	if s.image.IsEmpty() {
		s.mu.Unlock()
		return models.ExtractionResult{}, ErrNoImageSelected
	}
	s.state = StateDispatched
	raw := s.image
	s.mu.Unlock()

	slog.Info("Verification attempt dispatched", "session_id", sessionId, "variant", string(st.variant))

	encoded := images.Encode(raw)
	request := extraction.BuildRequest(st.variant, encoded)

	completion, err := st.client.ExtractDocument(ctx, request.Instruction, request.Image)
	if err != nil {
		slog.Error("Inference call failed", "session_id", sessionId, "error", err)
		st.fail(s)
		return models.ExtractionResult{}, fmt.Errorf("%s", GenericExtractionError)
	}

	result, err := extraction.Parse(st.variant, completion)
	if err != nil {
		// Same user-visible outcome as an inference failure, but the log
		// line keeps the malformed-completion cause for debugging.
		slog.Error("Completion could not be parsed", "session_id", sessionId, "error", err)
		st.fail(s)
		return models.ExtractionResult{}, fmt.Errorf("%s", GenericExtractionError)
	}

	s.mu.Lock()
	s.state = StateSucceeded
	s.result = &result
	s.errMsg = ""
	s.mu.Unlock()

	slog.Info("Verification attempt succeeded", "session_id", sessionId)
	return result, nil
}

// fail records a failed attempt. The image is left intact so the user can
// retry without re-selecting it.
func (st *SessionStore) fail(s *VerificationSession) {
	s.mu.Lock()
	s.state = StateFailed
	s.result = nil
	s.errMsg = GenericExtractionError
	s.mu.Unlock()
}
