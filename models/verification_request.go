package models

// CaptureImageRequest carries a single frame captured from the live camera
// feed, as the data-URL screenshot exposed by the camera widget.
type CaptureImageRequest struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
	Image     string `json:"image"`
}

// VerifyRequest triggers one verification attempt for the image currently
// held by the session.
type VerifyRequest struct {
	SessionId string `json:"session_id"`
	Nonce     string `json:"nonce"`
}
