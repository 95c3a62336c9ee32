package ir

import (
	"fmt"
	"time"
)

// BlockType is the closed set of block kinds.
type BlockType string

const (
	BlockCore   BlockType = "core"
	BlockText   BlockType = "text"
	BlockFile   BlockType = "file"
	BlockLink   BlockType = "link"
	BlockGithub BlockType = "github"
)

// ValidBlockTypes defines allowed block types.
var ValidBlockTypes = map[BlockType]bool{
	BlockCore:   true,
	BlockText:   true,
	BlockFile:   true,
	BlockLink:   true,
	BlockGithub: true,
}

// ParseBlockType validates a raw type tag.
func ParseBlockType(s string) (BlockType, error) {
	t := BlockType(s)
	if !ValidBlockTypes[t] {
		return "", fmt.Errorf("unknown block type %q", s)
	}
	return t, nil
}

// CorePosition is the canonical coordinate of the singleton core block.
var CorePosition = Position{X: 0, Y: 0}

// Position is a canvas coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Block is a node in the canvas graph.
//
// Selected, Draggable and Deletable are local-only. They are never written
// to the replicated document and never contribute to a digest.
type Block struct {
	ID       string    `json:"id"`
	Type     BlockType `json:"type"`
	Position Position  `json:"position"`
	Width    float64   `json:"width,omitempty"`
	Height   float64   `json:"height,omitempty"`
	Data     BlockData `json:"data"`

	Selected  bool `json:"-"`
	Draggable bool `json:"-"`
	Deletable bool `json:"-"`
}

// BlockData is the structured payload of a block.
//
// Content is a derived cache of the block's replicated text sequence.
type BlockData struct {
	Content  string  `json:"content,omitempty"`
	OwnerID  string  `json:"ownerId,omitempty"`
	IsLocked bool    `json:"isLocked,omitempty"`
	Payload  Payload `json:"-"`
}

// Link is a directed edge between two blocks.
type Link struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`

	Selected bool `json:"-"`
}

// Graph is a complete set of blocks and links.
type Graph struct {
	Blocks []Block `json:"blocks"`
	Links  []Link  `json:"links"`
}

// Cursor is a presence pointer location. Index is the block stacking index
// the pointer hovers, -1 for the bare canvas.
type Cursor struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Index int     `json:"index"`
}

// Presence is the ephemeral live status of one connected actor.
// Seq is a per-actor counter; a record with a lower Seq never replaces a
// newer one.
type Presence struct {
	ActorID         string  `json:"actorId"`
	Name            string  `json:"name,omitempty"`
	Color           string  `json:"color,omitempty"`
	Cursor          *Cursor `json:"cursor,omitempty"`
	IsTyping        bool    `json:"isTyping,omitempty"`
	TypingBlockID   string  `json:"typingBlockId,omitempty"`
	DraggingBlockID string  `json:"draggingBlockId,omitempty"`
	CaretPosition   *int    `json:"caretPosition,omitempty"`
	Seq             int64   `json:"seq"`

	// Epoch identifies one run of the publishing channel. Seq restarts
	// at 1 in every epoch.
	Epoch string `json:"epoch,omitempty"`
}

// Snapshot is a persisted, named point-in-time copy of a document.
type Snapshot struct {
	ID        string    `json:"id"`
	Intent    string    `json:"intent"`
	Blocks    []Block   `json:"blocks"`
	Links     []Link    `json:"links"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// SnapshotInfo is the list form of a snapshot, without its content.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Intent    string    `json:"intent"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"createdAt"`
}

// Attachment is a clipboard file handed to the upload service.
type Attachment struct {
	Name     string
	MimeType string
	Size     int64
	Data     []byte
}

// FileMeta is the stored-file description returned by the upload service.
type FileMeta struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"type"`
	URL      string `json:"url,omitempty"`
}

// NoticeKind classifies a user-visible notice.
type NoticeKind string

const (
	// NoticeInfo reports a no-op or success (e.g. "no changes").
	NoticeInfo NoticeKind = "info"
	// NoticeError reports a recoverable failure; local state is unchanged.
	NoticeError NoticeKind = "error"
	// NoticeForbidden reports an authorization failure.
	NoticeForbidden NoticeKind = "forbidden"
)

// Notice is a user-visible message produced by an asynchronous operation.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Op      string     `json:"op"`
	Message string     `json:"message"`
}
