package images

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// CameraCaptureFilename is the synthetic filename given to frames captured
// from the live camera feed, so downstream stages cannot tell a capture
// apart from an uploaded file.
const CameraCaptureFilename = "camera-capture.jpg"

const cameraCaptureMIME = "image/jpeg"

// RawImage is the in-memory binary representation of a user-supplied or
// captured photograph. It is immutable once produced; selecting a new image
// replaces it wholesale.
type RawImage struct {
	Filename string
	MIMEType string
	Data     []byte
}

// EncodedImage is the transport-safe form of a RawImage: a standard base64
// encoding of its bytes paired with the original MIME type.
type EncodedImage struct {
	Data     string
	MIMEType string
}

// IsEmpty reports whether the image carries no bytes at all. An empty image
// still encodes to a valid (empty) payload, but callers must treat it as
// "no image selected" rather than dispatching an extraction.
func (r RawImage) IsEmpty() bool {
	return len(r.Data) == 0
}

func (e EncodedImage) IsEmpty() bool {
	return e.Data == ""
}

// FromUpload builds a RawImage from a file chosen with the file picker.
// When the browser did not declare a content type, the MIME type is sniffed
// from the leading bytes.
func FromUpload(filename, declaredMIME string, data []byte) RawImage {
	return RawImage{
		Filename: filename,
		MIMEType: pickMIME(declaredMIME, data),
		Data:     data,
	}
}

// FromCameraCapture builds a RawImage from a camera-widget screenshot,
// which arrives as a data URL (data:image/jpeg;base64,...). The result is
// tagged with a synthetic filename and image/jpeg so the rest of the
// pipeline is source-agnostic.
func FromCameraCapture(dataURL string) (RawImage, error) {
	data, _, err := DecodeDataURL(dataURL)
	if err != nil {
		return RawImage{}, fmt.Errorf("failed to decode camera capture: %w", err)
	}
	return RawImage{
		Filename: CameraCaptureFilename,
		MIMEType: cameraCaptureMIME,
		Data:     data,
	}, nil
}

// Encode converts a RawImage into its EncodedImage form. The encoding is
// deterministic and lossless; an empty image yields an empty-but-valid
// payload.
func Encode(raw RawImage) EncodedImage {
	return EncodedImage{
		Data:     base64.StdEncoding.EncodeToString(raw.Data),
		MIMEType: raw.MIMEType,
	}
}

// Decode reverses Encode. It exists for the inference client, whose SDK
// wants the raw bytes back.
func Decode(enc EncodedImage) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(enc.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, nil
}

// DecodeDataURL decodes a base64 payload that may be wrapped in a data URL.
// When a data: prefix is present the MIME type from the prefix is returned
// as a hint.
func DecodeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(s, "data:") {
		idx := strings.IndexByte(s, ',')
		if idx < 0 {
			return nil, "", fmt.Errorf("malformed data URL: missing payload separator")
		}
		meta := s[len("data:"):idx] // "<mime>;base64"
		if semi := strings.IndexByte(meta, ';'); semi >= 0 {
			hintMIME = meta[:semi]
		} else {
			hintMIME = meta
		}
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some encoders produce URL-safe base64.
		data, err2 := base64.URLEncoding.DecodeString(s)
		if err2 == nil {
			return data, hintMIME, nil
		}
		return nil, "", err
	}
	return data, hintMIME, nil
}

// pickMIME takes the declared content type when present and otherwise
// detects one from the payload.
func pickMIME(declared string, data []byte) string {
	if d := strings.TrimSpace(declared); d != "" {
		return d
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}
