package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go-document-verifier/extraction"
	"go-document-verifier/images"
	"go-document-verifier/models"

	"github.com/stretchr/testify/require"
)

var testConfig = ServerConfig{
	Host:           "localhost",
	Port:           8081,
	UseTls:         false,
	TlsCertPath:    "",
	TlsPrivKeyPath: "",
}

const testServerURL = "http://localhost:8081"

// Minimal JPEG header used as the document photo in tests.
var testImageBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func startTestServer(t *testing.T, storage TokenStorage, client InferenceClient) *ServerState {
	t.Helper()

	testState := &ServerState{
		tokenStorage:   storage,
		sessions:       NewSessionStore(extraction.VariantIdentity, client),
		receiptCreator: fakeReceiptCreator{receipt: "test-receipt"},
	}

	srv, err := NewServer(testState, testConfig)
	require.NoError(t, err)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server error: %v", err)
		}
	}()

	waitUntilHealthy(t, testServerURL+"/api/health")
	t.Cleanup(func() {
		if err := srv.Stop(); err != nil {
			t.Logf("error shutting down server: %v", err)
		}
	})
	return testState
}

func waitUntilHealthy(t *testing.T, url string) {
	t.Helper()
	const maxAttempts = 50
	for i := 0; i < maxAttempts; i++ {
		if resp, err := http.Get(url); err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("server did not start in time")
}

func postJSON[T any](t *testing.T, url string, payload any) (*http.Response, []byte, *T) {
	t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(b)
	}
	resp, err := http.Post(url, "application/json", body)
	require.NoError(t, err)

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var v T
	_ = json.Unmarshal(respBody, &v)

	return resp, respBody, &v
}

func mustStatus(t *testing.T, resp *http.Response, want int, body []byte) {
	t.Helper()
	require.Equalf(t, want, resp.StatusCode, "body: %s", body)
}

// start-session bootstrap
func startSession(t *testing.T) (sessionID, nonce string) {
	t.Helper()
	resp, body, sr := postJSON[StartSessionResponse](t, testServerURL+"/api/start-session", nil)
	mustStatus(t, resp, http.StatusOK, body)
	require.NotEmpty(t, sr.SessionId)
	require.NotEmpty(t, sr.Nonce)
	return sr.SessionId, sr.Nonce
}

// uploadImage posts a multipart file upload for the session.
func uploadImage(t *testing.T, sessionID, nonce string, imageData []byte) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	require.NoError(t, writer.WriteField("session_id", sessionID))
	require.NoError(t, writer.WriteField("nonce", nonce))

	// CreateFormFile would hardcode application/octet-stream; declare the
	// JPEG content type the way a browser upload would.
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="image"; filename="dni-front.jpg"`)
	partHeader.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(partHeader)
	require.NoError(t, err)
	_, err = part.Write(imageData)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, err := http.Post(testServerURL+"/api/set-image", writer.FormDataContentType(), &buf)
	require.NoError(t, err)
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, respBody
}

func verify(t *testing.T, sessionID, nonce string) (*http.Response, []byte, *VerificationResponse) {
	t.Helper()
	return postJSON[VerificationResponse](t, testServerURL+"/api/verify", models.VerifyRequest{
		SessionId: sessionID,
		Nonce:     nonce,
	})
}

// test doubles

// fakeInferenceClient returns a canned completion or error and records the
// requests it received. When block is non-nil, calls wait until it is
// closed, which lets tests hold an attempt in the Dispatched state.
type fakeInferenceClient struct {
	completion string
	err        error
	block      chan struct{}

	calls atomic.Int32

	mu              sync.Mutex
	lastInstruction string
	lastImage       images.EncodedImage
}

func (f *fakeInferenceClient) ExtractDocument(ctx context.Context, instruction string, img images.EncodedImage) (string, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastInstruction = instruction
	f.lastImage = img
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	return f.completion, nil
}

type fakeReceiptCreator struct{ receipt string }

func (f fakeReceiptCreator) CreateReceipt(_ models.ExtractionResult) (string, error) {
	return f.receipt, nil
}
