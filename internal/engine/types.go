package engine

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Schema type names.
const (
	TypeObject  = "object"
	TypeString  = "string"
	TypeArray   = "array"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// Schema describes the expected JSON output structure for structured responses.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
}

// ImageOptions controls image generation.
type ImageOptions struct {
	Count       int
	AspectRatio string
	MIMEType    string
}

// Image is an encoded image with its media type.
type Image struct {
	Data     []byte
	MIMEType string
}

// IsZero reports whether the image carries no data.
func (i Image) IsZero() bool { return len(i.Data) == 0 }

// DataURL encodes the image as a base64 data URL.
func (i Image) DataURL() string {
	mime := i.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

var ErrInvalidDataURL = errors.New("invalid data URL")

// ParseDataURL decodes a base64 data URL such as "data:image/jpeg;base64,...".
func ParseDataURL(s string) (Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return Image{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}
	return Image{Data: data, MIMEType: mime}, nil
}

// Multimodal is the decoded content of a mixed image/text response.
type Multimodal struct {
	Images []Image
	Text   []string
}

// FirstImage returns the first image part, if any.
func (m *Multimodal) FirstImage() (Image, bool) {
	if m == nil || len(m.Images) == 0 {
		return Image{}, false
	}
	return m.Images[0], true
}
