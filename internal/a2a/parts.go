package a2a

import (
	"encoding/json"
	"fmt"
)

// PartKind discriminates the Part union.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// Part is one element of a message's content: text, a file reference,
// or a structured data payload.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text is set when Kind == "text".
	Text string `json:"text,omitempty"`

	// File is set when Kind == "file".
	File *FileRef `json:"file,omitempty"`

	// Data is set when Kind == "data". Decode with DecodeDataPayload.
	Data json.RawMessage `json:"data,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// FileRef points at file content either inline (Bytes, base64) or by URI.
type FileRef struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// FilePart builds a file content part.
func FilePart(ref FileRef) Part {
	return Part{Kind: PartKindFile, File: &ref}
}

// DataPart builds a data content part from a typed payload.
func DataPart(payload any) (Part, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Part{}, fmt.Errorf("marshal data part: %w", err)
	}
	return Part{Kind: PartKindData, Data: data}, nil
}

// IsRenderable reports whether the part carries content that belongs in
// the message list (as opposed to side-channel data signals).
func (p Part) IsRenderable() bool {
	return p.Kind == PartKindText || p.Kind == PartKindFile
}
