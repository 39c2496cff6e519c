package corectx

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pkgcore/pkgcore/internal/config"
	"github.com/pkgcore/pkgcore/pkg/event"
)

func TestInitWithoutEventPipeUsesOnlyExplicitListener(t *testing.T) {
	var got []string
	emit := func(s fmt.Stringer) { got = append(got, s.String()) }

	ctx, err := Init(config.Config{}, nil, emit)
	require.NoError(t, err)
	defer ctx.Shutdown()

	ctx.Emit(event.Notice("hi"))
	require.Len(t, got, 1)
}

func TestInitStreamsToEventPipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	var got []string
	emit := func(s fmt.Stringer) { got = append(got, s.String()) }

	ctx, err := Init(config.Config{EventPipe: path}, nil, emit)
	require.NoError(t, err)

	ctx.Emit(event.Notice("both"))
	require.NoError(t, ctx.Shutdown())

	require.Len(t, got, 1, "explicit listener still receives the event")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	require.Contains(t, scanner.Text(), "both")
}

func TestRepoByNameSkipsDisabled(t *testing.T) {
	ctx := &Context{Repos: []Repository{
		{Name: "a", Enabled: false},
		{Name: "b", Enabled: true},
	}}

	_, ok := ctx.RepoByName("a")
	require.False(t, ok)

	r, ok := ctx.RepoByName("b")
	require.True(t, ok)
	require.Equal(t, "b", r.Name)
}

func TestRepoByNameNotFound(t *testing.T) {
	ctx := &Context{}
	_, ok := ctx.RepoByName("missing")
	require.False(t, ok)
}
