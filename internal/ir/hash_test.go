package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() ([]Block, []Link) {
	blocks := []Block{
		{ID: "core", Type: BlockCore},
		{
			ID:       "b1",
			Type:     BlockText,
			Position: Position{X: 10, Y: 20},
			Width:    200,
			Height:   80,
			Data:     BlockData{Content: "hello", OwnerID: "alice"},
		},
		{
			ID:       "b2",
			Type:     BlockLink,
			Position: Position{X: -5, Y: 7.5},
			Data:     BlockData{Payload: LinkPayload{URL: "https://example.com"}},
		},
	}
	links := []Link{
		{ID: "l1", Source: "core", Target: "b1"},
		{ID: "l2", Source: "b1", Target: "b2"},
	}
	return blocks, links
}

func TestGraphDigestDeterminism(t *testing.T) {
	blocks, links := sampleGraph()

	d1, err := GraphDigest(blocks, links)
	require.NoError(t, err)
	d2, err := GraphDigest(blocks, links)
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64, "SHA-256 hex is 64 characters")
}

func TestGraphDigestOrderIndependent(t *testing.T) {
	blocks, links := sampleGraph()
	reversedBlocks := []Block{blocks[2], blocks[0], blocks[1]}
	reversedLinks := []Link{links[1], links[0]}

	assert.Equal(t, MustGraphDigest(blocks, links), MustGraphDigest(reversedBlocks, reversedLinks))
}

func TestGraphDigestIgnoresEphemeralFields(t *testing.T) {
	blocks, links := sampleGraph()
	base := MustGraphDigest(blocks, links)

	blocks[1].Selected = true
	blocks[1].Draggable = false
	links[0].Selected = true

	assert.Equal(t, base, MustGraphDigest(blocks, links))
}

func TestGraphDigestIgnoresCorePosition(t *testing.T) {
	blocks, links := sampleGraph()
	base := MustGraphDigest(blocks, links)

	blocks[0].Position = Position{X: 500, Y: 500}

	assert.Equal(t, base, MustGraphDigest(blocks, links), "core is pinned before hashing")
}

func TestGraphDigestChangesWithPersistedFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(b []Block, l []Link)
	}{
		{"position", func(b []Block, _ []Link) { b[1].Position.X = 11 }},
		{"size", func(b []Block, _ []Link) { b[1].Width = 201 }},
		{"content", func(b []Block, _ []Link) { b[1].Data.Content = "hello world" }},
		{"owner", func(b []Block, _ []Link) { b[1].Data.OwnerID = "bob" }},
		{"lock", func(b []Block, _ []Link) { b[1].Data.IsLocked = true }},
		{"payload", func(b []Block, _ []Link) { b[2].Data.Payload = LinkPayload{URL: "https://example.org"} }},
		{"link target", func(_ []Block, l []Link) { l[1].Target = "core" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocks, links := sampleGraph()
			base := MustGraphDigest(blocks, links)
			tt.mutate(blocks, links)
			assert.NotEqual(t, base, MustGraphDigest(blocks, links))
		})
	}
}

func TestGraphDigestEmptyGraph(t *testing.T) {
	d, err := GraphDigest(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, d, MustGraphDigest([]Block{}, []Link{}))
}

func TestUpdateDigestDomainSeparated(t *testing.T) {
	data := []byte(`{"blocks":[],"links":[]}`)
	assert.NotEqual(t, hashWithDomain(DomainGraph, data), UpdateDigest(data))
}
