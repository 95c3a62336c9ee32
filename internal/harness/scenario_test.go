package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		s, err := LoadScenario(path)
		require.NoError(t, err, path)
		assert.Equal(t, []string{"alice", "bob"}, s.Actors)
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_Fields(t *testing.T) {
	s, err := ParseScenario([]byte(`
name: fields
actors: [alice]
steps:
  - {actor: alice, op: create_block, type: text, x: 1.5, y: -2, content: hi}
  - {actor: alice, op: delete_blocks, blocks: [alice-1], expect: NOT_FOUND}
assertions:
  - {type: block, block: alice-1, locked: false, content: ""}
`))
	require.NoError(t, err)

	require.Len(t, s.Steps, 2)
	assert.Equal(t, 1.5, s.Steps[0].X)
	assert.Equal(t, -2.0, s.Steps[0].Y)
	assert.Equal(t, "hi", s.Steps[0].Content)
	assert.Equal(t, "NOT_FOUND", s.Steps[1].Expect)

	a := s.Assertions[0]
	require.NotNil(t, a.Locked)
	assert.False(t, *a.Locked)
	require.NotNil(t, a.Content)
	assert.Equal(t, "", *a.Content)
	assert.Nil(t, a.X, "unset fields are not checked")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", ``, "empty document"},
		{"unknown field", "name: x\nactor: [a]\n", "field actor not found"},
		{"no name", "actors: [a]\nsteps: [{op: sync}]\n", "name is required"},
		{"no actors", "name: x\nsteps: [{op: sync}]\n", "at least one actor"},
		{"duplicate actor", "name: x\nactors: [a, a]\nsteps: [{op: sync}]\n", `duplicate actor "a"`},
		{"no steps", "name: x\nactors: [a]\n", "at least one step"},
		{"unknown op", "name: x\nactors: [a]\nsteps: [{actor: a, op: fly}]\n", `unknown op "fly"`},
		{"unknown actor", "name: x\nactors: [a]\nsteps: [{actor: b, op: undo}]\n", `unknown actor "b"`},
		{"network op with actor", "name: x\nactors: [a]\nsteps: [{actor: a, op: sync}]\n", "sync takes no actor"},
		{"create without type", "name: x\nactors: [a]\nsteps: [{actor: a, op: create_block}]\n", "type is required"},
		{"move without block", "name: x\nactors: [a]\nsteps: [{actor: a, op: move_block}]\n", "block is required"},
		{"connect without target", "name: x\nactors: [a]\nsteps: [{actor: a, op: connect, source: s}]\n", "source and target"},
		{"unknown assertion", "name: x\nactors: [a]\nsteps: [{op: sync}]\nassertions: [{type: vibes}]\n", `unknown type "vibes"`},
		{"block assertion without block", "name: x\nactors: [a]\nsteps: [{op: sync}]\nassertions: [{type: block}]\n", "block is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_FromTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: tmp\nactors: [a]\nsteps: [{op: sync}]\n"), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "tmp", s.Name)
}
