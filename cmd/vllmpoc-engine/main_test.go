package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDryRun_Defaults(t *testing.T) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--dry-run"})
	require.NoError(t, cmd.Execute())

	require.Equal(t,
		"vllm serve Qwen/Qwen-1.8B-Chat --host 0.0.0.0 --port 8000 --gpu-memory-utilization 0.8 "+
			"--max-num-batched-tokens 1024 --tensor-parallel-size 1 --quantization bitsandbytes "+
			"--trust-remote-code --allow-credentials\n",
		out.String())
}

func TestDryRun_Flags(t *testing.T) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetArgs([]string{
		"--dry-run",
		"--model", "Qwen/Qwen3-0.6B",
		"--port", "8001",
		"--load-in-4bit=false",
		"--api-key", "secret",
		"--binary", "/opt/vllm/bin/vllm",
	})
	require.NoError(t, cmd.Execute())

	line := out.String()
	require.Contains(t, line, "/opt/vllm/bin/vllm serve Qwen/Qwen3-0.6B")
	require.Contains(t, line, "--port 8001")
	require.Contains(t, line, "--api-key ***")
	require.NotContains(t, line, "secret")
	require.NotContains(t, line, "bitsandbytes")
}

func TestDryRun_InvalidArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "--gpu-memory-utilization", "1.5"})
	require.Error(t, cmd.Execute())
}
