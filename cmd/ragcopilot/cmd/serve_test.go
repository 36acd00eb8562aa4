package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServeCmd_Flags(t *testing.T) {
	cmd := NewRootCmd()

	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	assert.Equal(t, "stdio", serveCmd.Flags().Lookup("transport").DefValue)
	assert.Equal(t, "info", serveCmd.Flags().Lookup("log-level").DefValue)
	assert.Equal(t, "false", serveCmd.Flags().Lookup("no-watch").DefValue)
}
