//go:build linux
// +build linux

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fanwatch/fanotify"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
mountpoint = "/home"
with_name = true

[log]
level = "debug"
format = "json"

[[watch]]
path = "/home/user"
actions = ["FileModified", "FileOrDirectoryCreated"]

[[watch]]
path = "/home/shared"
actions = ["FileDeleted"]
`

func TestDecode(t *testing.T) {
	c, err := Decode(sample)
	require.NoError(t, err)
	want := &Config{
		Mountpoint: "/home",
		WithName:   true,
		MaxEvents:  4096,
		Log:        LogConfig{Level: "debug", Format: "json"},
		Watches: []Watch{
			{Path: "/home/user", Actions: []string{"FileModified", "FileOrDirectoryCreated"}},
			{Path: "/home/shared", Actions: []string{"FileDeleted"}},
		},
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, c.Validate())

	a, err := c.Watches[0].Action()
	require.NoError(t, err)
	assert.Equal(t, fanotify.FileModified|fanotify.FileOrDirectoryCreated, a)
}

func TestDefaults(t *testing.T) {
	c, err := Decode(`
[[watch]]
path = "/tmp"
actions = ["FileOpened"]
`)
	require.NoError(t, err)
	assert.Equal(t, "/", c.Mountpoint)
	assert.Equal(t, uint(4096), c.MaxEvents)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.False(t, c.WithName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{"no watch", ``, "no watch configured"},
		{"empty path", "[[watch]]\nactions = [\"FileOpened\"]\n", "empty path"},
		{"no actions", "[[watch]]\npath = \"/tmp\"\n", "no actions"},
		{"bad action", "[[watch]]\npath = \"/tmp\"\nactions = [\"FileExploded\"]\n", "unknown action"},
		{"bad level", "[log]\nlevel = \"loud\"\n[[watch]]\npath = \"/tmp\"\nactions = [\"FileOpened\"]\n", "not a valid logrus Level"},
		{"bad format", "[log]\nformat = \"xml\"\n[[watch]]\npath = \"/tmp\"\nactions = [\"FileOpened\"]\n", "unknown log format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := Decode(tc.data)
			require.NoError(t, err)
			err = c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fanwatch.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, c.Watches, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLogConfigApply(t *testing.T) {
	logger := logrus.New()
	require.NoError(t, LogConfig{Level: "warn", Format: "json"}.Apply(logger))
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	assert.Error(t, LogConfig{Level: "warn", Format: "yaml"}.Apply(logger))
}
