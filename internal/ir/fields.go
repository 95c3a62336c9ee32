package ir

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Replicated record field names. Data fields are flattened under the
// "data." prefix so concurrent edits to different data keys never clobber
// each other.
const (
	FieldType     = "type"
	FieldX        = "x"
	FieldY        = "y"
	FieldWidth    = "width"
	FieldHeight   = "height"
	FieldOwnerID  = "data.ownerId"
	FieldIsLocked = "data.isLocked"
	FieldSource   = "source"
	FieldTarget   = "target"

	dataPrefix = "data."
)

// Fields flattens the persisted subset of a block into replicated record
// fields. Content and every local-only field are excluded.
func (b Block) Fields() map[string]any {
	f := map[string]any{
		FieldType:     string(b.Type),
		FieldX:        b.Position.X,
		FieldY:        b.Position.Y,
		FieldWidth:    b.Width,
		FieldHeight:   b.Height,
		FieldOwnerID:  b.Data.OwnerID,
		FieldIsLocked: b.Data.IsLocked,
	}
	payload := b.Data.Payload
	if payload == nil || payload.BlockType() != b.Type {
		payload = DefaultPayload(b.Type)
	}
	for k, v := range payload.payloadFields() {
		f[dataPrefix+k] = v
	}
	return f
}

// BlockFromFields rebuilds a block from its replicated record fields.
// The result is normalized; Content is left empty for the caller to fill
// from the text sequence.
func BlockFromFields(id string, f map[string]any) (Block, error) {
	d := fieldDecoder{m: f}
	t, err := ParseBlockType(d.str(FieldType))
	if err != nil {
		return Block{}, fmt.Errorf("block %s: %w", id, err)
	}

	payloadFields := make(map[string]any)
	for k, v := range f {
		if rest, ok := strings.CutPrefix(k, dataPrefix); ok {
			payloadFields[rest] = v
		}
	}
	payload, err := DecodePayload(t, payloadFields)
	if err != nil {
		return Block{}, fmt.Errorf("block %s: %w", id, err)
	}

	b := Block{
		ID:       id,
		Type:     t,
		Position: Position{X: d.float(FieldX), Y: d.float(FieldY)},
		Width:    d.float(FieldWidth),
		Height:   d.float(FieldHeight),
		Data: BlockData{
			OwnerID:  d.str(FieldOwnerID),
			IsLocked: d.bool(FieldIsLocked),
			Payload:  payload,
		},
	}
	if d.err != nil {
		return Block{}, fmt.Errorf("block %s: %w", id, d.err)
	}
	return NormalizeBlock(b), nil
}

// NormalizeBlock enforces the structural invariants of a block:
// a payload matching its type, derived drag/delete flags, and the pinned
// core coordinate.
func NormalizeBlock(b Block) Block {
	if b.Data.Payload == nil || b.Data.Payload.BlockType() != b.Type {
		b.Data.Payload = DefaultPayload(b.Type)
	}
	if b.Type == BlockCore {
		b.Position = CorePosition
		b.Draggable = false
		b.Deletable = false
		return b
	}
	b.Draggable = true
	b.Deletable = true
	return b
}

// Fields returns the persisted fields of a link.
func (l Link) Fields() map[string]any {
	return map[string]any{
		FieldSource: l.Source,
		FieldTarget: l.Target,
	}
}

// LinkFromFields rebuilds a link from its replicated record fields.
func LinkFromFields(id string, f map[string]any) (Link, error) {
	d := fieldDecoder{m: f}
	l := Link{ID: id, Source: d.str(FieldSource), Target: d.str(FieldTarget)}
	if d.err != nil {
		return Link{}, fmt.Errorf("link %s: %w", id, d.err)
	}
	return l, nil
}

// ValuesEqual compares two JSON-ish values structurally. Numbers compare
// by value regardless of their Go numeric type.
func ValuesEqual(a, b any) bool {
	if fa, err := toFloat(a); err == nil {
		fb, err := toFloat(b)
		return err == nil && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		return FieldsEqual(av, bv)
	default:
		return false
	}
}

// FieldsEqual compares two field maps structurally.
func FieldsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// blockJSON is the wire/import form of a block: data carries the payload
// fields inline next to content, ownerId and isLocked.
type blockJSON struct {
	ID       string         `json:"id"`
	Type     BlockType      `json:"type"`
	Position Position       `json:"position"`
	Width    float64        `json:"width,omitempty"`
	Height   float64        `json:"height,omitempty"`
	Data     map[string]any `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (b Block) MarshalJSON() ([]byte, error) {
	data := map[string]any{}
	payload := b.Data.Payload
	if payload == nil || payload.BlockType() != b.Type {
		payload = DefaultPayload(b.Type)
	}
	maps.Copy(data, payload.payloadFields())
	if b.Data.Content != "" {
		data["content"] = b.Data.Content
	}
	if b.Data.OwnerID != "" {
		data["ownerId"] = b.Data.OwnerID
	}
	if b.Data.IsLocked {
		data["isLocked"] = true
	}
	return json.Marshal(blockJSON{
		ID:       b.ID,
		Type:     b.Type,
		Position: b.Position,
		Width:    b.Width,
		Height:   b.Height,
		Data:     data,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Block) UnmarshalJSON(raw []byte) error {
	var bj blockJSON
	if err := json.Unmarshal(raw, &bj); err != nil {
		return err
	}
	if _, err := ParseBlockType(string(bj.Type)); err != nil {
		return err
	}
	d := fieldDecoder{m: bj.Data}
	content := d.str("content")
	owner := d.str("ownerId")
	locked := d.bool("isLocked")
	if d.err != nil {
		return fmt.Errorf("block %s: %w", bj.ID, d.err)
	}
	rest := maps.Clone(bj.Data)
	if rest == nil {
		rest = map[string]any{}
	}
	delete(rest, "content")
	delete(rest, "ownerId")
	delete(rest, "isLocked")
	payload, err := DecodePayload(bj.Type, rest)
	if err != nil {
		return fmt.Errorf("block %s: %w", bj.ID, err)
	}
	*b = Block{
		ID:       bj.ID,
		Type:     bj.Type,
		Position: bj.Position,
		Width:    bj.Width,
		Height:   bj.Height,
		Data: BlockData{
			Content:  content,
			OwnerID:  owner,
			IsLocked: locked,
			Payload:  payload,
		},
	}
	return nil
}
