package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tessera", cmd.Use)
	assert.Contains(t, cmd.Long, "collaborative block canvases")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"digest"}, {"import"}, {"export"},
		{"snapshot", "save"}, {"snapshot", "list"}, {"snapshot", "show"},
		{"snapshot", "rename"}, {"snapshot", "delete"}, {"snapshot", "apply"},
		{"relay"}, {"join"}, {"cursor"}, {"test"},
	}

	for _, path := range commands {
		t.Run(filepath.Join(path...), func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, DefaultConfigPath, configFlag.DefValue)

	for _, name := range []string{"room", "db"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, "", f.DefValue)
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	tests := []struct {
		path []string
		flag string
	}{
		{[]string{"export"}, "output"},
		{[]string{"relay"}, "listen"},
		{[]string{"relay"}, "redis"},
		{[]string{"join"}, "relay"},
		{[]string{"test"}, "update"},
		{[]string{"test"}, "filter"},
	}
	for _, tt := range tests {
		sub, _, err := cmd.Find(tt.path)
		require.NoError(t, err)
		assert.NotNil(t, sub.Flags().Lookup(tt.flag), "%v --%s", tt.path, tt.flag)
	}
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "validate", "graph.json"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootOptions_Config(t *testing.T) {
	t.Run("missing default file uses defaults", func(t *testing.T) {
		t.Chdir(t.TempDir())
		opts := &RootOptions{ConfigPath: DefaultConfigPath, Room: "r1"}

		cfg, err := opts.Config()
		require.NoError(t, err)
		assert.Equal(t, "r1", cfg.Room)
		assert.Equal(t, "tessera.db", cfg.Database)
		assert.NotEmpty(t, cfg.Actor, "an actor id is generated")

		again, err := opts.Config()
		require.NoError(t, err)
		assert.Equal(t, cfg.Actor, again.Actor, "config is loaded once")
	})

	t.Run("explicit file must exist", func(t *testing.T) {
		opts := &RootOptions{ConfigPath: filepath.Join(t.TempDir(), "nope.yaml")}
		_, err := opts.Config()
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("flags override file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tessera.yaml")
		require.NoError(t, os.WriteFile(path, []byte("actor: alice\nroom: from-file\ndatabase: file.db\n"), 0o644))

		opts := &RootOptions{ConfigPath: path, Database: "flag.db"}
		cfg, err := opts.Config()
		require.NoError(t, err)
		assert.Equal(t, "alice", cfg.Actor)
		assert.Equal(t, "from-file", cfg.Room)
		assert.Equal(t, "flag.db", cfg.Database)
	})
}
