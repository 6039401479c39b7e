package model

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// InputKind distinguishes text from image identification.
type InputKind string

// Input kinds.
const (
	InputText  InputKind = "text"
	InputImage InputKind = "image"
)

// Request limits.
const (
	MaxTextLength = 2000
	MaxImageBytes = 10 << 20
)

// SupportedImageTypes lists the accepted image MIME types.
var SupportedImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}

// ErrInvalidRequest is wrapped by every request validation failure.
var ErrInvalidRequest = eris.New("invalid identification request")

// IdentificationRequest is an immutable identification input. Build one with
// NewTextRequest or NewImageRequest.
type IdentificationRequest struct {
	id          string
	kind        InputKind
	text        string
	image       []byte
	imageMIME   string
	prior       *IdentificationResult
	corrections Corrections
}

// NewTextRequest creates a text identification request with a fresh ID.
func NewTextRequest(text string) IdentificationRequest {
	return IdentificationRequest{
		id:   uuid.NewString(),
		kind: InputText,
		text: strings.TrimSpace(text),
	}
}

// NewImageRequest creates an image identification request with a fresh ID.
// An optional caption is carried as supplementary text.
func NewImageRequest(image []byte, mime, caption string) IdentificationRequest {
	return IdentificationRequest{
		id:        uuid.NewString(),
		kind:      InputImage,
		text:      strings.TrimSpace(caption),
		image:     slices.Clone(image),
		imageMIME: strings.ToLower(strings.TrimSpace(mime)),
	}
}

// WithPrior returns a copy carrying a prior result and user corrections.
func (r IdentificationRequest) WithPrior(prior *IdentificationResult, c Corrections) IdentificationRequest {
	out := r
	if prior != nil {
		p := prior.Clone()
		out.prior = &p
	}
	out.corrections = c.Clone()
	return out
}

// WithText returns a copy with different text and a fresh ID.
func (r IdentificationRequest) WithText(text string) IdentificationRequest {
	out := r
	out.id = uuid.NewString()
	out.text = strings.TrimSpace(text)
	return out
}

// Renew returns a copy with a fresh ID, used when re-running a request.
func (r IdentificationRequest) Renew() IdentificationRequest {
	out := r
	out.id = uuid.NewString()
	return out
}

// ID returns the request identifier.
func (r IdentificationRequest) ID() string { return r.id }

// Kind returns the input kind.
func (r IdentificationRequest) Kind() InputKind { return r.kind }

// Text returns the query text or image caption.
func (r IdentificationRequest) Text() string { return r.text }

// Image returns a copy of the image payload.
func (r IdentificationRequest) Image() []byte { return slices.Clone(r.image) }

// ImageMIME returns the image MIME type.
func (r IdentificationRequest) ImageMIME() string { return r.imageMIME }

// Prior returns a copy of the prior result, or nil.
func (r IdentificationRequest) Prior() *IdentificationResult {
	if r.prior == nil {
		return nil
	}
	p := r.prior.Clone()
	return &p
}

// Corrections returns a copy of the user corrections.
func (r IdentificationRequest) Corrections() Corrections { return r.corrections.Clone() }

// Validate checks the request against the input limits.
func (r IdentificationRequest) Validate() error {
	switch r.kind {
	case InputText:
		if r.text == "" {
			return eris.Wrap(ErrInvalidRequest, "text is empty")
		}
		if utf8.RuneCountInString(r.text) > MaxTextLength {
			return eris.Wrapf(ErrInvalidRequest, "text exceeds %d characters", MaxTextLength)
		}
	case InputImage:
		if len(r.image) == 0 {
			return eris.Wrap(ErrInvalidRequest, "image is empty")
		}
		if len(r.image) > MaxImageBytes {
			return eris.Wrapf(ErrInvalidRequest, "image exceeds %d bytes", MaxImageBytes)
		}
		if !slices.Contains(SupportedImageTypes, r.imageMIME) {
			return eris.Wrapf(ErrInvalidRequest, "unsupported image type %q", r.imageMIME)
		}
	default:
		return eris.Wrapf(ErrInvalidRequest, "unknown input kind %q", r.kind)
	}
	for f := range r.corrections {
		if !slices.Contains(WineFields, f) {
			return eris.Wrapf(ErrInvalidRequest, "cannot correct field %q", f)
		}
	}
	return nil
}
