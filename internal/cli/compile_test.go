package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decayModel = `
model: {
	name: "decay"
	state: len: 1
	expr: {
		op: "+"
		args: [{const: 5.0}, {state: {start: 0, stop: 1}}]
	}
}
`

func writeModel(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func executeCommand(args ...string) (string, string, error) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestCompile_ToStdout(t *testing.T) {
	path := writeModel(t, decayModel)

	out, _, err := executeCommand("compile", path)
	require.NoError(t, err)

	want := "begin\n" +
		"\nfunction f!(dy, y, p, t)\n" +
		"   @. dy = 5.0 + (@view y[1])\n" +
		"   nothing\nend\n\nend\n"
	assert.Equal(t, want, out)
}

func TestCompile_ToFile(t *testing.T) {
	path := writeModel(t, decayModel)
	outPath := filepath.Join(t.TempDir(), "decay.jl")

	out, _, err := executeCommand("compile", path, "-o", outPath, "--name", "decay")
	require.NoError(t, err)
	assert.Contains(t, out, "compiled "+path+" -> "+outPath+" (decay)")

	code, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(code), "function decay!(dy, y, p, t)")
}

func TestCompile_JSONFormat(t *testing.T) {
	path := writeModel(t, decayModel)

	out, _, err := executeCommand("compile", path, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   CompileResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, path, resp.Data.Source)
	assert.Equal(t, "ode", resp.Data.Mode)
	assert.False(t, resp.Data.Cached)
	assert.Contains(t, resp.Data.Code, "function f!")
}

func TestCompile_DAEMode(t *testing.T) {
	path := writeModel(t, decayModel)

	out, _, err := executeCommand("compile", path, "--dae", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "function f!(out, dy, y, p, t)")
	assert.Contains(t, out, "(@view dy[1])")
}

func TestCompile_CacheRoundTrip(t *testing.T) {
	path := writeModel(t, decayModel)
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	first, _, err := executeCommand("compile", path, "--cache", cachePath)
	require.NoError(t, err)

	out, _, err := executeCommand("compile", path, "--cache", cachePath, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data CompileResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Cached)
	assert.Equal(t, first, resp.Data.Code+"\n", "cached text must match the first compile")
}

func TestCompile_Manifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "decay.cue"), []byte(decayModel), 0o644))
	manifest := `
models:
  - source: decay.cue
    funcname: decay_rhs
    output: decay.jl
`
	manifestPath := filepath.Join(dir, "build.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(manifest), 0o644))

	out, _, err := executeCommand("compile", "--manifest", manifestPath)
	require.NoError(t, err)
	assert.Contains(t, out, "decay.jl (decay_rhs)")

	code, err := os.ReadFile(filepath.Join(dir, "decay.jl"))
	require.NoError(t, err)
	assert.Contains(t, string(code), "function decay_rhs!(dy, y, p, t)")
}

func TestCompile_Errors(t *testing.T) {
	t.Run("missing model file", func(t *testing.T) {
		_, errOut, err := executeCommand("compile", filepath.Join(t.TempDir(), "nope.cue"))
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, errOut, "load model")
	})

	t.Run("no arguments", func(t *testing.T) {
		_, _, err := executeCommand("compile")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("manifest and positional arg conflict", func(t *testing.T) {
		path := writeModel(t, decayModel)
		_, _, err := executeCommand("compile", path, "--manifest", "build.yaml")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("invalid format flag", func(t *testing.T) {
		path := writeModel(t, decayModel)
		_, _, err := executeCommand("compile", path, "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestCheck(t *testing.T) {
	t.Run("valid model", func(t *testing.T) {
		path := writeModel(t, decayModel)
		out, _, err := executeCommand("check", path)
		require.NoError(t, err)
		assert.Contains(t, out, "ok")
		assert.Contains(t, out, path)
	})

	t.Run("json summary", func(t *testing.T) {
		path := writeModel(t, decayModel)
		out, _, err := executeCommand("check", path, "--format", "json")
		require.NoError(t, err)

		var resp struct {
			Status string      `json:"status"`
			Data   CheckResult `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, 1, resp.Data.StateLen)
		assert.Equal(t, 1, resp.Data.Constants)
		assert.Equal(t, 2, resp.Data.Variables)
	})

	t.Run("malformed model", func(t *testing.T) {
		path := writeModel(t, `model: {state: len: 1}`)
		_, errOut, err := executeCommand("check", path)
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, errOut, "load model")
	})
}
