package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmd(t *testing.T) {
	t.Run("should expose all subcommands", func(t *testing.T) {
		root := GetRootCmd()

		names := make(map[string]bool)
		for _, c := range root.Commands() {
			names[c.Name()] = true
		}

		assert.True(t, names["serve"])
		assert.True(t, names["status"])
		assert.True(t, names["stop"])
		assert.True(t, names["config"])
	})

	t.Run("should report a version", func(t *testing.T) {
		assert.NotEmpty(t, GetVersion())
		assert.Equal(t, GetVersion(), GetRootCmd().Version)
	})

	t.Run("should register the config flag", func(t *testing.T) {
		flag := GetRootCmd().PersistentFlags().Lookup("config")

		require.NotNil(t, flag)
	})
}
