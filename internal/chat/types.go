// Package chat is the generation backend contract: ordered multi-part turns in, ordered
// text and image parts out.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the backend produced no usable part.
var ErrEmptyResponse = errors.New("empty model response")

// ErrNotConfigured is returned by Unconfigured.
var ErrNotConfigured = errors.New("generation backend not configured")

// Role tags a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Image is inline image content in base64 form.
type Image struct {
	MimeType string `json:"mime_type"`
	Base64   string `json:"data"`
}

// NewImage encodes raw bytes.
func NewImage(mimeType string, data []byte) *Image {
	return &Image{MimeType: mimeType, Base64: base64.StdEncoding.EncodeToString(data)}
}

// Bytes decodes the payload.
func (i *Image) Bytes() ([]byte, error) {
	if i == nil {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(i.Base64)
}

// DataURL renders the image for browser display.
func (i *Image) DataURL() string {
	if i == nil {
		return ""
	}
	return "data:" + i.MimeType + ";base64," + i.Base64
}

// Part is one piece of a turn. Exactly one of Text or Image is set.
type Part struct {
	Text  string `json:"text,omitempty"`
	Image *Image `json:"image,omitempty"`
}

// Turn is one role-tagged message.
type Turn struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts"`
}

// TextTurn builds a single-part text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}}
}

// Request is a single generation call.
type Request struct {
	Model string
	Turns []Turn
	// System is an optional instruction applied to the whole call.
	System string
	// WantImage asks the backend to be able to answer with image parts.
	WantImage   bool
	Temperature *float32
}

// Response holds the parts of the first candidate, in order.
type Response struct {
	Model        string
	Parts        []Part
	FinishReason string
}

// Text joins every text part.
func (r Response) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FirstImage returns the first image part, or nil.
func (r Response) FirstImage() *Image {
	for _, p := range r.Parts {
		if p.Image != nil {
			return p.Image
		}
	}
	return nil
}

// Backend generates content.
type Backend interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, req Request) (Response, error)

func (f BackendFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Unconfigured is the Backend used when no API key is set. Every call fails, so
// users get the error reply instead of silence.
var Unconfigured Backend = BackendFunc(func(context.Context, Request) (Response, error) {
	return Response{}, ErrNotConfigured
})
