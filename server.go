package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go-document-verifier/images"
	"go-document-verifier/models"

	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_TOKEN_RETRIEVAL = "failed to get nonce from storage"
const ERR_INVALID_NONCE_SESSION = "invalid session or nonce"
const ERR_RECEIPT_CREATION = "failed to create receipt"

// Uploads above this size are rejected outright.
const maxUploadBytes = 10 << 20

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	tokenStorage   TokenStorage
	sessions       *SessionStore
	receiptCreator ReceiptCreator // nil when no signing key is configured
}

type SpaHandler struct {
	staticPath string
	indexPath  string
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

// ServeHTTP inspects the URL path to locate a file within the static dir
// on the SPA handler. If a file is found, it will be served. If not, the
// file located at the index path on the SPA handler will be served. This
// is suitable behavior for serving an SPA (single page application).
// https://github.com/gorilla/mux?tab=readme-ov-file#serving-single-page-applications
func (h SpaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	slog.Debug("SPA handler serving request", "path", r.URL.Path)
	// Join internally call path.Clean to prevent directory traversal
	path := filepath.Join(h.staticPath, r.URL.Path)
	// check whether a file exists or is a directory at the given path
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || fi.IsDir() {
		// file does not exist or path is a directory, serve index.html
		slog.Debug("Serving index.html for path", "path", r.URL.Path)
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}

	if err != nil {
		// if we got an error (that wasn't that the file doesn't exist) stating the
		// file, return a 500 internal server error and stop
		slog.Error("Error stating file", "path", path, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// otherwise, use http.FileServer to serve the static file
	slog.Debug("Serving static file", "path", path)
	http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/start-session", func(w http.ResponseWriter, r *http.Request) {
		handleStartSession(state, w, r)
	})
	router.HandleFunc("/api/set-image", func(w http.ResponseWriter, r *http.Request) {
		handleSetImage(state, w, r)
	})
	router.HandleFunc("/api/capture-image", func(w http.ResponseWriter, r *http.Request) {
		handleCaptureImage(state, w, r)
	})
	router.HandleFunc("/api/verify", func(w http.ResponseWriter, r *http.Request) {
		handleVerify(state, w, r)
	})

	slog.Debug("Registered all API routes")

	spa := SpaHandler{staticPath: "../frontend/build", indexPath: "index.html"}
	router.PathPrefix("/").Handler(spa)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		// The write timeout must cover a full inference round-trip.
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  15 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

type StartSessionResponse struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

type SetImageResponse struct {
	State    string `json:"state"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type VerificationResponse struct {
	State   string                   `json:"state"`
	Result  *models.ExtractionResult `json:"result,omitempty"`
	Receipt string                   `json:"receipt,omitempty"`
	Error   string                   `json:"error,omitempty"`
}

// handleStartSession creates a fresh verification session: a random
// session id plus a nonce that guards all subsequent calls.
func handleStartSession(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to start a verification session")

	sessionId := GenerateSessionId()
	if sessionId == "" {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate session ID", fmt.Errorf("failed to generate session ID"))
		return
	}

	nonce, err := GenerateNonce(8)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to generate nonce", err)
		return
	}

	if err := state.tokenStorage.StoreToken(sessionId, nonce); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, "failed to store nonce", err)
		return
	}

	state.sessions.CreateSession(sessionId)

	response := StartSessionResponse{
		SessionId: sessionId,
		Nonce:     nonce,
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Verification session started", "session_id", sessionId)
}

// handleSetImage accepts a multipart file upload from the file picker and
// makes it the session's current image, discarding any prior result.
func handleSetImage(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to set a session image")

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to parse multipart form", err)
		return
	}

	sessionId := r.FormValue("session_id")
	nonce := r.FormValue("nonce")
	if err := validateSession(state.tokenStorage, sessionId, nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_INVALID_NONCE_SESSION, err)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "missing image file", err)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to read image file", err)
		return
	}
	if len(data) > maxUploadBytes {
		respondWithErr(w, http.StatusRequestEntityTooLarge, "image too large", "image exceeds upload limit", fmt.Errorf("upload of %d bytes exceeds limit", len(data)))
		return
	}

	raw := images.FromUpload(header.Filename, header.Header.Get("Content-Type"), data)
	if setSessionImage(state, w, sessionId, raw) != nil {
		return
	}

	slog.Info("Session image set from upload", "session_id", sessionId, "filename", raw.Filename, "size", len(raw.Data))
}

// handleCaptureImage accepts a single camera frame as the data-URL
// screenshot produced by the camera widget. The frame is normalized into
// the same representation as an uploaded file, so downstream stages are
// source-agnostic.
func handleCaptureImage(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to capture a camera image")

	var request models.CaptureImageRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode capture request", err)
		return
	}

	if err := validateSession(state.tokenStorage, request.SessionId, request.Nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_INVALID_NONCE_SESSION, err)
		return
	}

	raw, err := images.FromCameraCapture(request.Image)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid capture", "failed to decode camera frame", err)
		return
	}

	if setSessionImage(state, w, request.SessionId, raw) != nil {
		return
	}

	slog.Info("Session image set from camera capture", "session_id", request.SessionId, "size", len(raw.Data))
}

// setSessionImage stores the image on the session and writes the response.
// A non-nil return means an error response has already been written.
func setSessionImage(state *ServerState, w http.ResponseWriter, sessionId string, raw images.RawImage) error {
	if err := state.sessions.SetImage(sessionId, raw); err != nil {
		if errors.Is(err, ErrAttemptInProgress) {
			respondWithErr(w, http.StatusConflict, ErrAttemptInProgress.Error(), "image change rejected while attempt in flight", err)
		} else {
			respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to set session image", err)
		}
		return err
	}

	response := SetImageResponse{
		State:    string(StateIdle),
		Filename: raw.Filename,
		MimeType: raw.MIMEType,
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return err
	}
	return nil
}

// handleVerify runs one verification attempt for the session's current
// image and returns the extracted fields, or the single generic failure
// message when the attempt failed.
func handleVerify(state *ServerState, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received request to verify a document")

	var request models.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", "failed to decode verify request", err)
		return
	}

	if err := validateSession(state.tokenStorage, request.SessionId, request.Nonce); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_INVALID_NONCE_SESSION, err)
		return
	}

	result, err := state.sessions.StartVerification(r.Context(), request.SessionId)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoImageSelected):
			respondWithErr(w, http.StatusBadRequest, ErrNoImageSelected.Error(), "verification requested without an image", err)
		case errors.Is(err, ErrAttemptInProgress):
			respondWithErr(w, http.StatusConflict, ErrAttemptInProgress.Error(), "duplicate dispatch rejected", err)
		case errors.Is(err, ErrUnknownSession):
			respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_INVALID_NONCE_SESSION, err)
		default:
			response := VerificationResponse{
				State: string(StateFailed),
				Error: GenericExtractionError,
			}
			if werr := writeJSON(w, http.StatusBadGateway, response); werr != nil {
				respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, werr)
			}
		}
		return
	}

	response := VerificationResponse{
		State:  string(StateSucceeded),
		Result: &result,
	}

	if state.receiptCreator != nil {
		receipt, err := state.receiptCreator.CreateReceipt(result)
		if err != nil {
			// The extraction itself succeeded; a receipt failure is logged
			// but does not fail the attempt.
			slog.Warn(ERR_RECEIPT_CREATION, "session_id", request.SessionId, "error", err)
		} else {
			response.Receipt = receipt
		}
	}

	// The flow is complete; drop the session (and with it the document
	// bytes) and invalidate its nonce token. A failed attempt keeps both
	// so the user can retry.
	state.sessions.RemoveSession(request.SessionId)
	if err := state.tokenStorage.RemoveToken(request.SessionId); err != nil {
		slog.Warn("failed to remove session token", "session_id", request.SessionId, "error", err)
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}

	slog.Info("Document verification completed successfully", "session_id", request.SessionId)
}

// -----------------------------------------------------------------------------------

// validateSession validates session and nonce
func validateSession(storage TokenStorage, sessionId, nonce string) error {
	slog.Debug("Validating session and nonce", "session_id", sessionId)
	storedNonce, err := storage.RetrieveToken(sessionId)
	if err != nil {
		slog.Warn("Failed to retrieve token from storage", "session_id", sessionId, "error", err)
		return fmt.Errorf("%s: %w", ERR_TOKEN_RETRIEVAL, err)
	}

	if storedNonce == "" || storedNonce != nonce {
		slog.Warn("Invalid nonce or session", "session_id", sessionId, "nonce_empty", storedNonce == "", "nonce_match", storedNonce == nonce)
		return fmt.Errorf("%s", ERR_INVALID_NONCE_SESSION)
	}

	slog.Debug("Session validation successful", "session_id", sessionId)
	return nil
}

func GenerateSessionId() string {
	sessionId := make([]byte, 16)
	if _, err := rand.Read(sessionId); err != nil {
		slog.Error("failed to generate session ID", "error", err)
		return ""
	}
	hexId := fmt.Sprintf("%x", sessionId)
	slog.Debug("Session ID generated successfully", "session_id", hexId)
	return hexId
}

// GenerateNonce Generates a random nonce
func GenerateNonce(i int) (string, error) {
	nonce := make([]byte, i)
	if _, err := rand.Read(nonce); err != nil {
		slog.Error("failed to generate nonce", "error", err)
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	hexString := hex.EncodeToString(nonce)
	slog.Debug("Nonce generated successfully", "length", i)
	return hexString, nil
}

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

// helpers ------------

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}

}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	} else {
		slog.Debug("JSON response written successfully", "status_code", status, "payload_size", len(payload))
	}
	return nil
}
