package exec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJournalAppendAndReadAll(t *testing.T) {
	dir := t.TempDir()
	j, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Append(Record{Phase: PhaseBegin, Kind: "INSTALL", UID: "foo~ports/foo", Name: "foo"}))
	require.NoError(t, j.Append(Record{Phase: PhaseEnd, Kind: "INSTALL", UID: "foo~ports/foo", Name: "foo", Success: true}))

	records, err := j.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 1, records[0].Seq)
	require.Equal(t, 2, records[1].Seq)
	require.Equal(t, PhaseBegin, records[0].Phase)
	require.Equal(t, PhaseEnd, records[1].Phase)
}

func TestJournalReopenContinuesSeq(t *testing.T) {
	dir := t.TempDir()
	j1, err := OpenJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j1.Append(Record{Phase: PhaseBegin, Kind: "INSTALL", UID: "a"}))
	require.NoError(t, j1.Close())

	j2, err := OpenJournal(dir)
	require.NoError(t, err)
	defer j2.Close()
	records, err := j2.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)

	require.NoError(t, j2.Append(Record{Phase: PhaseEnd, Kind: "INSTALL", UID: "a", Success: true}))
	records, err = j2.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 2, records[1].Seq)
}

func TestPendingSteps(t *testing.T) {
	records := []Record{
		{Phase: PhaseBegin, UID: "a"},
		{Phase: PhaseEnd, UID: "a", Success: true},
		{Phase: PhaseBegin, UID: "b"},
	}
	pending := PendingSteps(records)
	require.Len(t, pending, 1)
	require.Equal(t, "b", pending[0].UID)
}
