package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/tessera/internal/crdt"
	"github.com/roach88/tessera/internal/ir"
)

// marshalGraph converts snapshot content to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches the source bytes.
func marshalGraph(blocks []ir.Block, links []ir.Link) (string, error) {
	if blocks == nil {
		blocks = []ir.Block{}
	}
	if links == nil {
		links = []ir.Link{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ir.Graph{Blocks: blocks, Links: links}); err != nil {
		return "", fmt.Errorf("marshal graph: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalGraph parses stored snapshot content.
func unmarshalGraph(data string) (ir.Graph, error) {
	var g ir.Graph
	if err := json.Unmarshal([]byte(data), &g); err != nil {
		return ir.Graph{}, fmt.Errorf("unmarshal graph: %w", err)
	}
	if g.Blocks == nil {
		g.Blocks = []ir.Block{}
	}
	if g.Links == nil {
		g.Links = []ir.Link{}
	}
	return g, nil
}

// marshalUpdate encodes an update and returns its body with its digest.
func marshalUpdate(u crdt.Update) (body, digest string, err error) {
	data, err := crdt.EncodeUpdate(u)
	if err != nil {
		return "", "", fmt.Errorf("marshal update: %w", err)
	}
	return string(data), ir.UpdateDigest(data), nil
}

// unmarshalUpdate decodes a stored update body, verifying its digest.
func unmarshalUpdate(body, digest string) (crdt.Update, error) {
	if got := ir.UpdateDigest([]byte(body)); got != digest {
		return crdt.Update{}, fmt.Errorf("update digest mismatch: stored %s, computed %s", digest, got)
	}
	u, err := crdt.DecodeUpdate([]byte(body))
	if err != nil {
		return crdt.Update{}, fmt.Errorf("unmarshal update: %w", err)
	}
	return u, nil
}
