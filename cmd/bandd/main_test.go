package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"help"}, &stdout, &stderr)
	require.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "bandd replay")
	assert.Empty(t, stderr.String())
}

func TestRunUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"bogus"}, &stdout, &stderr)
	require.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "unknown command: bogus")
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"listen", "--nope"}, &stdout, &stderr)
	assert.Equal(t, 2, code)
}

func TestRunInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bandwire.toml")
	require.NoError(t, os.WriteFile(path, []byte("[source]\nkind = \"serial\"\n"), 0o644))

	var stdout, stderr bytes.Buffer
	code := run([]string{"listen", "--config", path}, &stdout, &stderr)
	require.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "source.kind")
}

func TestReplayRequiresCapture(t *testing.T) {
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "none.toml")
	code := run([]string{"replay", "--config", missing}, &stdout, &stderr)
	require.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "--pcap")
}

func TestSendCaptureThenReplay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "missing.toml")
	capture := filepath.Join(dir, "stream.pcap")
	record := filepath.Join(dir, "out.jsonl")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"send", "--config", cfgPath,
		"--pcap", capture, "--count", "20", "--bands", "32", "--bad-every", "5",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	stderr.Reset()
	code = run([]string{
		"replay", "--config", cfgPath,
		"--pcap", capture, "--port", "8080", "--record", record,
		"--log-format", "json", "--stats", "1h",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stderr.String(), "replay finished")

	data, err := os.ReadFile(record)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NotEmpty(t, lines)
	for _, line := range lines {
		assert.Contains(t, line, `"band_count":32`)
		assert.Contains(t, line, `"interpolated":true`)
	}
}
