package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/guildhook/guildhook/internal/infrastructure/sandbox"
	"github.com/guildhook/guildhook/internal/testutil/guestwasm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const greeterManifest = `
id: greeter
version: 1.0.0
name: Greeter
owner: user-1
trigger:
  kind: event
  event: message_create
scopes: [messages_write, storage]
config:
  - name: greeting
    type: string
    default: "hi"
code_file: greeter.wasm
`

// greeterCode sends a message to c1 and stores a counter.
func greeterCode() []byte {
	b := guestwasm.New()
	send := b.Import(sandbox.ModuleMessages, "send", guestwasm.SigCall)
	set := b.Import(sandbox.ModuleStore, "set", guestwasm.SigCall)
	return b.
		Call(send, `{"channel_id":"c1","content":"hello"}`).
		Call(set, `{"key":"greeted","value":1}`).
		Return(0)
}

// trappingCode fails every run.
func trappingCode() []byte {
	return guestwasm.New().Trap().Return(0)
}

// writeExtension writes the greeter manifest next to code and returns the manifest path.
func writeExtension(t *testing.T, dir string, code []byte) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "greeter.wasm"), code, 0600))
	path := filepath.Join(dir, "greeter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(greeterManifest), 0600))
	return path
}

// writeFile writes content under dir and returns its path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimLeft(content, "\n")), 0600))
	return path
}

// execute runs cmd with args and returns what it printed.
func execute(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
