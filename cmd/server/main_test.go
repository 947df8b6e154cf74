package main

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCommand(t *testing.T) {
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token"})

	require.NoError(t, root.Execute())

	tok := strings.TrimSpace(out.String())
	assert.Len(t, tok, 32)
	_, err := hex.DecodeString(tok)
	assert.NoError(t, err)
}

func TestRootFlags(t *testing.T) {
	root := rootCmd()
	for _, name := range []string{"config", "mock", "port", "debug"} {
		assert.NotNil(t, root.Flags().Lookup(name), "missing flag %q", name)
	}
	assert.Equal(t, "config.yaml", root.Flags().Lookup("config").DefValue)
}
