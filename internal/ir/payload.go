package ir

import (
	"fmt"
	"math"
)

// Payload is a sealed interface over the per-type block payload variants.
// Only the variants below implement it, so type switches are exhaustive.
type Payload interface {
	BlockType() BlockType
	payloadFields() map[string]any
}

// FileStatus tracks the upload lifecycle of a file block.
type FileStatus string

const (
	FileUploading FileStatus = "uploading"
	FileReady     FileStatus = "ready"
	FileError     FileStatus = "error"
)

// CorePayload is the (empty) payload of the singleton core block.
type CorePayload struct{}

// TextPayload is the payload of a rich text block. Its text lives in the
// replicated text sequence, not here.
type TextPayload struct{}

// FilePayload describes an uploaded (or uploading) file.
type FilePayload struct {
	Name     string
	Size     int64
	MimeType string
	URL      string
	Status   FileStatus
	Error    string
}

// LinkPayload describes a generic web link.
type LinkPayload struct {
	URL         string
	Title       string
	Description string
	Image       string
}

// GithubPayload describes a git-hosting link (repository, issue or pull).
type GithubPayload struct {
	URL    string
	Owner  string
	Repo   string
	Kind   string // "repo", "issue", "pull", "tree", "blob"
	Number int64
}

func (CorePayload) BlockType() BlockType   { return BlockCore }
func (TextPayload) BlockType() BlockType   { return BlockText }
func (FilePayload) BlockType() BlockType   { return BlockFile }
func (LinkPayload) BlockType() BlockType   { return BlockLink }
func (GithubPayload) BlockType() BlockType { return BlockGithub }

func (CorePayload) payloadFields() map[string]any { return map[string]any{} }
func (TextPayload) payloadFields() map[string]any { return map[string]any{} }

func (p FilePayload) payloadFields() map[string]any {
	return map[string]any{
		"name":     p.Name,
		"size":     float64(p.Size),
		"mimeType": p.MimeType,
		"url":      p.URL,
		"status":   string(p.Status),
		"error":    p.Error,
	}
}

func (p LinkPayload) payloadFields() map[string]any {
	return map[string]any{
		"url":         p.URL,
		"title":       p.Title,
		"description": p.Description,
		"image":       p.Image,
	}
}

func (p GithubPayload) payloadFields() map[string]any {
	return map[string]any{
		"url":    p.URL,
		"owner":  p.Owner,
		"repo":   p.Repo,
		"kind":   p.Kind,
		"number": float64(p.Number),
	}
}

// DefaultPayload returns the zero payload for a block type.
func DefaultPayload(t BlockType) Payload {
	switch t {
	case BlockCore:
		return CorePayload{}
	case BlockFile:
		return FilePayload{}
	case BlockLink:
		return LinkPayload{}
	case BlockGithub:
		return GithubPayload{}
	default:
		return TextPayload{}
	}
}

// DecodePayload rebuilds a payload variant from its field map.
// Missing fields decode to zero values; wrongly typed fields are errors.
func DecodePayload(t BlockType, m map[string]any) (Payload, error) {
	d := fieldDecoder{m: m}
	var p Payload
	switch t {
	case BlockCore:
		p = CorePayload{}
	case BlockText:
		p = TextPayload{}
	case BlockFile:
		p = FilePayload{
			Name:     d.str("name"),
			Size:     d.int("size"),
			MimeType: d.str("mimeType"),
			URL:      d.str("url"),
			Status:   FileStatus(d.str("status")),
			Error:    d.str("error"),
		}
	case BlockLink:
		p = LinkPayload{
			URL:         d.str("url"),
			Title:       d.str("title"),
			Description: d.str("description"),
			Image:       d.str("image"),
		}
	case BlockGithub:
		p = GithubPayload{
			URL:    d.str("url"),
			Owner:  d.str("owner"),
			Repo:   d.str("repo"),
			Kind:   d.str("kind"),
			Number: d.int("number"),
		}
	default:
		return nil, fmt.Errorf("unknown block type %q", t)
	}
	if d.err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, d.err)
	}
	return p, nil
}

// fieldDecoder reads loosely typed JSON-ish values, keeping the first error.
type fieldDecoder struct {
	m   map[string]any
	err error
}

func (d *fieldDecoder) str(key string) string {
	v, ok := d.m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("field %q: expected string, got %T", key, v)
	}
	return s
}

func (d *fieldDecoder) bool(key string) bool {
	v, ok := d.m[key]
	if !ok || v == nil {
		return false
	}
	b, ok := v.(bool)
	if !ok && d.err == nil {
		d.err = fmt.Errorf("field %q: expected bool, got %T", key, v)
	}
	return b
}

func (d *fieldDecoder) float(key string) float64 {
	v, ok := d.m[key]
	if !ok || v == nil {
		return 0
	}
	f, err := toFloat(v)
	if err != nil && d.err == nil {
		d.err = fmt.Errorf("field %q: %w", key, err)
	}
	return f
}

func (d *fieldDecoder) int(key string) int64 {
	f := d.float(key)
	if f != math.Trunc(f) && d.err == nil {
		d.err = fmt.Errorf("field %q: expected integer, got %v", key, f)
	}
	return int64(f)
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}
