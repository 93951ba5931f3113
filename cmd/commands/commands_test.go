/*
Copyright 2022 The Numaproj Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineSpec = `
name: clicks
nodes:
  - name: clicks
    kind: Input
    schema:
      fields:
        - name: user
          type: string
        - name: page
          type: string
  - name: per-user
    kind: Reduce
    reduce:
      keys: [user]
      aggregates:
        - name: "n"
          function: count
  - name: out
    kind: Output
edges:
  - from: clicks
    to: per-user
  - from: per-user
    to: out
`

func writeSpec(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func Test_Commands(t *testing.T) {
	t.Run("root", func(t *testing.T) {
		b := bytes.NewBufferString("")
		rootCmd.SetOut(b)
		rootCmd.SetArgs([]string{"help"})
		require.NoError(t, rootCmd.Execute())
		assert.Contains(t, b.String(), "Available Commands")
		assert.Contains(t, b.String(), "validate")
	})

	t.Run("validate", func(t *testing.T) {
		cmd := NewValidateCommand()
		assert.Equal(t, "validate", cmd.Use)
		assert.Equal(t, "string", cmd.Flag("file").Value.Type())
		b := bytes.NewBufferString("")
		cmd.SetOut(b)
		cmd.SetArgs([]string{"-f", writeSpec(t, pipelineSpec)})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, b.String(), "pipeline clicks: 3 nodes, 2 edges")
		assert.Contains(t, b.String(), "per-user")
	})

	t.Run("validate missing file flag", func(t *testing.T) {
		cmd := NewValidateCommand()
		cmd.SetOut(bytes.NewBufferString(""))
		cmd.SetErr(bytes.NewBufferString(""))
		cmd.SetArgs([]string{})
		assert.Error(t, cmd.Execute())
	})

	t.Run("validate bad spec", func(t *testing.T) {
		cmd := NewValidateCommand()
		cmd.SetOut(bytes.NewBufferString(""))
		cmd.SetErr(bytes.NewBufferString(""))
		cmd.SetArgs([]string{"-f", writeSpec(t, "name: broken\nnodes:\n  - name: out\n    kind: Output\n")})
		assert.Error(t, cmd.Execute())
	})

	t.Run("version", func(t *testing.T) {
		cmd := NewVersionCommand()
		b := bytes.NewBufferString("")
		cmd.SetOut(b)
		cmd.SetArgs([]string{"--short"})
		require.NoError(t, cmd.Execute())
		assert.Contains(t, b.String(), "+")
	})
}
