package ir

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainGraph  = "tessera/graph/v1"
	DomainUpdate = "tessera/update/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// GraphObject returns the canonical object form of a graph: blocks and
// links sorted by id, each reduced to its persisted fields plus the
// derived text content. Selection and drag/delete flags never appear.
func GraphObject(blocks []Block, links []Link) map[string]any {
	sortedBlocks := slices.Clone(blocks)
	slices.SortFunc(sortedBlocks, func(a, b Block) int { return cmp.Compare(a.ID, b.ID) })
	sortedLinks := slices.Clone(links)
	slices.SortFunc(sortedLinks, func(a, b Link) int { return cmp.Compare(a.ID, b.ID) })

	blockObjs := make([]any, 0, len(sortedBlocks))
	for _, b := range sortedBlocks {
		b = NormalizeBlock(b)
		obj := b.Fields()
		obj["id"] = b.ID
		obj["content"] = b.Data.Content
		blockObjs = append(blockObjs, obj)
	}
	linkObjs := make([]any, 0, len(sortedLinks))
	for _, l := range sortedLinks {
		obj := l.Fields()
		obj["id"] = l.ID
		linkObjs = append(linkObjs, obj)
	}
	return map[string]any{
		"blocks": blockObjs,
		"links":  linkObjs,
	}
}

// GraphDigest computes the content digest of a graph.
// It is independent of slice order and of ephemeral fields, and changes
// when any persisted field changes.
func GraphDigest(blocks []Block, links []Link) (string, error) {
	canonical, err := MarshalCanonical(GraphObject(blocks, links))
	if err != nil {
		return "", fmt.Errorf("GraphDigest: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainGraph, canonical), nil
}

// MustGraphDigest is like GraphDigest but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustGraphDigest(blocks []Block, links []Link) string {
	d, err := GraphDigest(blocks, links)
	if err != nil {
		panic(err)
	}
	return d
}

// UpdateDigest identifies an encoded replicated update for deduplication
// in the persisted update log.
func UpdateDigest(encoded []byte) string {
	return hashWithDomain(DomainUpdate, encoded)
}
