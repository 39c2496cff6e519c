package event

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenPipeEmptyPathIsNop(t *testing.T) {
	listener, closer, err := OpenPipe("")
	require.NoError(t, err)
	require.NotPanics(t, func() { listener(Notice("hi")) })
	require.NoError(t, closer.Close())
}

func TestOpenPipeWritesOneLinePerEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	listener, closer, err := OpenPipe(path)
	require.NoError(t, err)

	listener(Notice("first"))
	listener(Notice("second"))
	require.NoError(t, closer.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "first")
	require.Contains(t, lines[1], "second")
}

func TestOpenPipeMissingFileErrors(t *testing.T) {
	_, _, err := OpenPipe(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
