package exec

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkgcore/pkgcore/pkgerr"
)

// journalFileName is the fixed name spec §6 assigns the executor's
// resumability log: "<db_dir>/.pkg.journal (append-only, fsync on each
// record)".
const journalFileName = ".pkg.journal"

// Phase is a journal record's position in a step's lifecycle.
type Phase string

const (
	PhaseBegin    Phase = "begin"
	PhaseEnd      Phase = "end"
)

// Record is a single atomic journal entry (spec §4.9: "at STEP_BEGIN the
// executor appends a journal record; at STEP_END it appends a completion
// record"). PkgJSON/OldPkgJSON carry the step's target/replaced manifests
// verbatim, marshaled at STEP_BEGIN, so a restart has the manifests it
// needs to finish or roll back a half-finished step's filesystem half even
// when the fetched artifact is gone; whether the step's database half
// committed is read from the LPDB row (see Executor.Resume).
type Record struct {
	Seq        int    `json:"seq"`
	Phase      Phase  `json:"phase"`
	Kind       string `json:"kind"`
	UID        string `json:"uid"`
	Name       string `json:"name"`
	PkgJSON    string `json:"pkg,omitempty"`
	OldPkgJSON string `json:"old_pkg,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Journal is the append-only, fsync-per-record log the executor uses for
// crash resumability.
type Journal struct {
	f   *os.File
	seq int
}

// OpenJournal opens (creating if absent) the journal under dbDir, appending
// to whatever it already contains — a fresh journal after a clean shutdown
// is typically empty, but OpenJournal does not assume that; ReadAll
// replays the current contents before the caller appends anything new.
func OpenJournal(dbDir string) (*Journal, error) {
	path := filepath.Join(dbDir, journalFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, pkgerr.New(pkgerr.IO, "exec: opening journal", err)
	}
	return &Journal{f: f}, nil
}

// ReadAll replays every record currently in the journal, in order — used
// at startup to detect and resolve a dirty journal before any new step
// begins.
func (j *Journal) ReadAll() ([]Record, error) {
	if _, err := j.f.Seek(0, 0); err != nil {
		return nil, pkgerr.New(pkgerr.IO, "exec: seeking journal", err)
	}
	var records []Record
	scanner := bufio.NewScanner(j.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, pkgerr.New(pkgerr.Corrupt, "exec: decoding journal record", err)
		}
		records = append(records, r)
		if r.Seq > j.seq {
			j.seq = r.Seq
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, pkgerr.New(pkgerr.IO, "exec: reading journal", err)
	}
	if _, err := j.f.Seek(0, 2); err != nil {
		return nil, pkgerr.New(pkgerr.IO, "exec: seeking journal to end", err)
	}
	return records, nil
}

// Append writes r as a single line, fsyncing before returning — "a journal
// record is a single atomic write to an append-only file" (spec §4.9).
func (j *Journal) Append(r Record) error {
	j.seq++
	r.Seq = j.seq
	data, err := json.Marshal(r)
	if err != nil {
		return pkgerr.New(pkgerr.IO, "exec: encoding journal record", err)
	}
	data = append(data, '\n')
	if _, err := j.f.Write(data); err != nil {
		return pkgerr.New(pkgerr.IO, "exec: writing journal record", err)
	}
	if err := j.f.Sync(); err != nil {
		return pkgerr.New(pkgerr.IO, "exec: fsyncing journal", err)
	}
	return nil
}

func (j *Journal) Close() error { return j.f.Close() }

// PendingSteps pairs begin records with no matching end record — the
// half-finished steps a restart must complete-or-rollback (spec §4.9).
func PendingSteps(records []Record) []Record {
	ended := make(map[string]bool)
	for _, r := range records {
		if r.Phase == PhaseEnd {
			ended[r.UID] = true
		}
	}
	var pending []Record
	for _, r := range records {
		if r.Phase == PhaseBegin && !ended[r.UID] {
			pending = append(pending, r)
		}
	}
	return pending
}
