package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"go-document-verifier/extraction"
	"go-document-verifier/images"
	"go-document-verifier/models"

	"github.com/stretchr/testify/require"
)

const testSessionId = "s12345"

func newTestStore(client InferenceClient) *SessionStore {
	store := NewSessionStore(extraction.VariantIdentity, client)
	store.CreateSession(testSessionId)
	return store
}

func testRawImage() images.RawImage {
	return images.RawImage{Filename: "dni.jpg", MIMEType: "image/jpeg", Data: testImageBytes}
}

func TestStartVerification_Success(t *testing.T) {
	client := &fakeInferenceClient{completion: testCompletion}
	store := newTestStore(client)

	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	result, err := store.StartVerification(context.Background(), testSessionId)
	require.NoError(t, err)
	require.Equal(t, "Juan", result.Identity.GivenName)

	snap, err := store.Snapshot(testSessionId)
	require.NoError(t, err)
	require.Equal(t, StateSucceeded, snap.State)
	require.NotNil(t, snap.Result)
	require.Empty(t, snap.ErrMsg)
}

func TestStartVerification_PartialFieldsStillSucceed(t *testing.T) {
	client := &fakeInferenceClient{completion: `{"nombre":"Juan","apellido":null}`}
	store := newTestStore(client)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	result, err := store.StartVerification(context.Background(), testSessionId)
	require.NoError(t, err)
	require.Equal(t, "Juan", result.Identity.GivenName)
	require.Equal(t, models.NotFound, result.Identity.FamilyName)
	require.Equal(t, models.NotFound, result.Identity.BirthDate)

	snap, _ := store.Snapshot(testSessionId)
	require.Equal(t, StateSucceeded, snap.State)
}

func TestStartVerification_NoImage(t *testing.T) {
	client := &fakeInferenceClient{completion: testCompletion}
	store := newTestStore(client)

	_, err := store.StartVerification(context.Background(), testSessionId)
	require.ErrorIs(t, err, ErrNoImageSelected)
	require.Equal(t, int32(0), client.calls.Load())

	// a user-input error does not move the state machine
	snap, _ := store.Snapshot(testSessionId)
	require.Equal(t, StateIdle, snap.State)
}

func TestStartVerification_NoImage_LeavesSessionUnchanged(t *testing.T) {
	client := &fakeInferenceClient{completion: testCompletion}
	store := newTestStore(client)

	// An empty image makes the dispatch a user-input error; the rejection
	// itself must not mutate the session in any way.
	require.NoError(t, store.SetImage(testSessionId, images.RawImage{}))
	snapBefore, _ := store.Snapshot(testSessionId)

	_, err := store.StartVerification(context.Background(), testSessionId)
	require.ErrorIs(t, err, ErrNoImageSelected)

	snapAfter, _ := store.Snapshot(testSessionId)
	require.Equal(t, snapBefore, snapAfter)
	require.Equal(t, int32(0), client.calls.Load())
}

func TestStartVerification_InferenceFailure(t *testing.T) {
	client := &fakeInferenceClient{err: errors.New("connection refused")}
	store := newTestStore(client)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	_, err := store.StartVerification(context.Background(), testSessionId)
	require.Error(t, err)
	require.Equal(t, GenericExtractionError, err.Error())

	snap, _ := store.Snapshot(testSessionId)
	require.Equal(t, StateFailed, snap.State)
	require.Nil(t, snap.Result)
	require.Equal(t, GenericExtractionError, snap.ErrMsg)
	require.True(t, snap.HasImage) // retry possible without re-selecting
}

func TestStartVerification_MalformedCompletion_SameUserVisibleError(t *testing.T) {
	inference := &fakeInferenceClient{err: errors.New("boom")}
	malformed := &fakeInferenceClient{completion: "I could not find a document in this image."}
	empty := &fakeInferenceClient{completion: "   "}

	var messages []string
	for _, client := range []*fakeInferenceClient{inference, malformed, empty} {
		store := newTestStore(client)
		require.NoError(t, store.SetImage(testSessionId, testRawImage()))
		_, err := store.StartVerification(context.Background(), testSessionId)
		require.Error(t, err)
		messages = append(messages, err.Error())
	}

	// all failure modes collapse into the single generic message
	require.Equal(t, messages[0], messages[1])
	require.Equal(t, messages[1], messages[2])
}

func TestSetImage_ClearsPriorOutcome(t *testing.T) {
	client := &fakeInferenceClient{completion: testCompletion}
	store := newTestStore(client)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	_, err := store.StartVerification(context.Background(), testSessionId)
	require.NoError(t, err)

	require.NoError(t, store.SetImage(testSessionId, testRawImage()))
	snap, _ := store.Snapshot(testSessionId)
	require.Equal(t, StateIdle, snap.State)
	require.Nil(t, snap.Result)
	require.Empty(t, snap.ErrMsg)
}

func TestSetImage_AfterFailureResetsToIdle(t *testing.T) {
	client := &fakeInferenceClient{completion: "not json"}
	store := newTestStore(client)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	_, err := store.StartVerification(context.Background(), testSessionId)
	require.Error(t, err)

	require.NoError(t, store.SetImage(testSessionId, testRawImage()))
	snap, _ := store.Snapshot(testSessionId)
	require.Equal(t, StateIdle, snap.State)
	require.Empty(t, snap.ErrMsg)
}

func TestStartVerification_DuplicateDispatchRejected(t *testing.T) {
	client := &fakeInferenceClient{completion: testCompletion, block: make(chan struct{})}
	store := newTestStore(client)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	done := make(chan error, 1)
	go func() {
		_, err := store.StartVerification(context.Background(), testSessionId)
		done <- err
	}()

	waitForState(t, store, testSessionId, StateDispatched)

	// second dispatch while in flight
	_, err := store.StartVerification(context.Background(), testSessionId)
	require.ErrorIs(t, err, ErrAttemptInProgress)

	// and no image swap either
	require.ErrorIs(t, store.SetImage(testSessionId, testRawImage()), ErrAttemptInProgress)

	close(client.block)
	require.NoError(t, <-done)
	require.Equal(t, int32(1), client.calls.Load())
}

func TestStartVerification_SummaryVariant(t *testing.T) {
	client := &fakeInferenceClient{completion: `{"nationality":"AR","age":35}`}
	store := NewSessionStore(extraction.VariantSummary, client)
	store.CreateSession(testSessionId)
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	result, err := store.StartVerification(context.Background(), testSessionId)
	require.NoError(t, err)
	require.Nil(t, result.Identity)
	require.NotNil(t, result.Summary)
	require.Equal(t, "AR", *result.Summary.Nationality)
	require.Equal(t, 35, *result.Summary.Age)

	client.mu.Lock()
	require.Contains(t, client.lastInstruction, "nationality")
	client.mu.Unlock()
}

func TestStartVerification_UnknownSession(t *testing.T) {
	store := NewSessionStore(extraction.VariantIdentity, &fakeInferenceClient{})
	_, err := store.StartVerification(context.Background(), "never-created")
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestRemoveSession(t *testing.T) {
	store := newTestStore(&fakeInferenceClient{completion: testCompletion})
	store.RemoveSession(testSessionId)

	_, err := store.Snapshot(testSessionId)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestExpiredSessionIsGone(t *testing.T) {
	store := newTestStore(&fakeInferenceClient{completion: testCompletion})
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	now := time.Now()
	store.now = func() time.Time { return now.Add(tokenTTL + time.Minute) }

	_, err := store.Snapshot(testSessionId)
	require.ErrorIs(t, err, ErrUnknownSession)
	_, err = store.StartVerification(context.Background(), testSessionId)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestCreateSession_SweepsExpiredSessions(t *testing.T) {
	store := newTestStore(&fakeInferenceClient{completion: testCompletion})
	require.NoError(t, store.SetImage(testSessionId, testRawImage()))

	now := time.Now()
	store.now = func() time.Time { return now.Add(tokenTTL + time.Minute) }
	store.CreateSession("fresh")

	store.mu.Lock()
	_, staleKept := store.sessions[testSessionId]
	_, freshKept := store.sessions["fresh"]
	store.mu.Unlock()
	require.False(t, staleKept)
	require.True(t, freshKept)
}

func waitForState(t *testing.T, store *SessionStore, sessionId string, want SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := store.Snapshot(sessionId)
		require.NoError(t, err)
		if snap.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session never reached state %v", want)
}
