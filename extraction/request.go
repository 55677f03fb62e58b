package extraction

import "go-document-verifier/images"

// Request is the composed payload for one verification attempt: the fixed
// instruction text for the configured variant plus the encoded image.
type Request struct {
	Instruction string
	Image       images.EncodedImage
}

// BuildRequest pairs the variant's instruction text with the encoded image.
// No user input is ever interpolated into the instruction, so the request
// is a pure function of (variant, image).
func BuildRequest(variant Variant, img images.EncodedImage) Request {
	return Request{
		Instruction: InstructionFor(variant),
		Image:       img,
	}
}
