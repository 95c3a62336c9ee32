package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/ir"
	"github.com/roach88/tessera/internal/schema"
)

func TestValidateCommand(t *testing.T) {
	env := newCLIEnv(t)
	path := env.file(t, "graph.json", sampleGraph)

	out, err := env.run("validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ graph valid (2 blocks, 1 links)")

	var summary GraphSummary
	resp, err := env.runJSON(t, &summary, "validate", path)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, GraphSummary{Valid: true, Blocks: 2, Links: 1}, summary)
}

func TestValidateCommand_Invalid(t *testing.T) {
	env := newCLIEnv(t)
	path := env.file(t, "bad.json", `{
  "blocks": [
    {"id": "c1", "type": "core", "position": {"x": 0, "y": 0}, "data": {}},
    {"id": "c2", "type": "core", "position": {"x": 0, "y": 0}, "data": {}}
  ],
  "links": [{"id": "l1", "source": "c1", "target": "ghost"}]
}`)

	out, err := env.run("validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E003]")
	assert.Contains(t, out, schema.ErrMultipleCores)
	assert.Contains(t, out, schema.ErrDanglingLink)

	resp, err := env.runJSON(t, nil, "validate", path)
	require.Error(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidGraph, resp.Error.Code)
}

func TestValidateCommand_MissingFile(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("validate", env.dir+"/nope.json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestDigestCommand(t *testing.T) {
	env := newCLIEnv(t)
	path := env.file(t, "graph.json", sampleGraph)

	v, err := schema.New()
	require.NoError(t, err)
	g, err := v.Validate(path, []byte(sampleGraph))
	require.NoError(t, err)
	want := ir.MustGraphDigest(g.Blocks, g.Links)

	out, err := env.run("digest", path)
	require.NoError(t, err)
	assert.Equal(t, want, strings.TrimSpace(out))

	var summary GraphSummary
	_, err = env.runJSON(t, &summary, "digest", path)
	require.NoError(t, err)
	assert.Equal(t, want, summary.Digest)
}

func TestImportExport(t *testing.T) {
	env := newCLIEnv(t)
	path := env.file(t, "graph.json", sampleGraph)

	out, err := env.run("import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 blocks and 1 links into room room-a")

	out, err = env.run("export")
	require.NoError(t, err)
	var g ir.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	require.Len(t, g.Blocks, 2)
	require.Len(t, g.Links, 1)

	byID := make(map[string]ir.Block)
	for _, b := range g.Blocks {
		byID[b.ID] = b
	}
	assert.Equal(t, "hello", byID["b1"].Data.Content)
	assert.Equal(t, ir.Position{X: 10, Y: 20}, byID["b1"].Position)
	assert.Equal(t, ir.BlockCore, byID["core"].Type)

	// The exported document is importable again.
	exported := env.file(t, "exported.json", out)
	_, err = env.run("validate", exported)
	require.NoError(t, err)
}

func TestExportCommand_ToFile(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("import", env.file(t, "graph.json", sampleGraph))
	require.NoError(t, err)

	target := env.dir + "/out.json"
	out, err := env.run("export", "-o", target)
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = env.run("validate", target)
	require.NoError(t, err)
}

func TestExportCommand_OtherRoomIsEmpty(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("import", env.file(t, "graph.json", sampleGraph))
	require.NoError(t, err)

	out, err := env.run("--room", "room-b", "export")
	require.NoError(t, err)
	var g ir.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Empty(t, g.Blocks)
}

func TestImportCommand_InvalidGraphLeavesRoomUntouched(t *testing.T) {
	env := newCLIEnv(t)
	_, err := env.run("import", env.file(t, "graph.json", sampleGraph))
	require.NoError(t, err)

	_, err = env.run("import", env.file(t, "bad.json", `{"blocks": [{"id": "x", "type": "sticker", "position": {"x": 0, "y": 0}}]}`))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := env.run("export")
	require.NoError(t, err)
	var g ir.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Len(t, g.Blocks, 2)
}
