package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/tessera/internal/ir"
)

const sampleGraph = `{
  "blocks": [
    {"id": "core", "type": "core", "position": {"x": 0, "y": 0}, "data": {}},
    {"id": "b1", "type": "text", "position": {"x": 10, "y": 20}, "data": {"content": "hello"}}
  ],
  "links": [{"id": "l1", "source": "core", "target": "b1"}]
}`

const coreOnlyGraph = `{"blocks": [{"id": "core", "type": "core", "position": {"x": 0, "y": 0}, "data": {}}], "links": []}`

// cliEnv is a temp directory with a config file pointing every store into
// it.
type cliEnv struct {
	dir    string
	config string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := fmt.Sprintf("actor: cli\nroom: room-a\ndatabase: %q\nprefs: %q\napi:\n  uploads_dir: %q\n",
		filepath.Join(dir, "tessera.db"),
		filepath.Join(dir, "prefs.db"),
		filepath.Join(dir, "uploads"))
	path := filepath.Join(dir, "tessera.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return cliEnv{dir: dir, config: path}
}

// file writes content into the env directory and returns its path.
func (e cliEnv) file(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the root command with args and returns stdout.
func (e cliEnv) run(args ...string) (string, error) {
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// jsonResponse is CLIResponse with the payload left undecoded.
type jsonResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   *CLIError       `json:"error"`
	Notices []ir.Notice     `json:"notices"`
}

// runJSON runs a command with --format json and decodes its response.
func (e cliEnv) runJSON(t *testing.T, data any, args ...string) (jsonResponse, error) {
	t.Helper()
	out, err := e.run(append([]string{"--format", "json"}, args...)...)
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	if data != nil && len(resp.Data) > 0 {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp, err
}
