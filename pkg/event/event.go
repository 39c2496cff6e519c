// Package event implements the structured event stream of spec §6: one
// JSON object per line, each carrying a "type" and "data" field, optionally
// written to EVENT_PIPE.
//
// The Listener callback and the jsonString helper are grounded directly on
// manifest/events.go (type Listener func(fmt.Stringer), jsonString) in the
// teacher repository; this package keeps the Listener shape, wraps each
// event in an explicit {"type", "data"} envelope instead of keying on a
// reflected type name, and adds the event-type catalogue and
// STEP_BEGIN/STEP_END ordering spec §5 and §6 require.
package event

import (
	"encoding/json"
	"fmt"
)

// Type is one of the event-type constants required by spec §6.
type Type string

const (
	TypeError        Type = "ERROR"
	TypeNotice       Type = "NOTICE"
	TypeInfoBegin    Type = "INFO_BEGIN"
	TypeInfoEnd      Type = "INFO_END"
	TypeProgressTick Type = "PROGRESS_TICK"
	TypeQueryYesNo   Type = "QUERY_YESNO"
	TypeQuerySelect  Type = "QUERY_SELECT"
	TypeStepBegin    Type = "STEP_BEGIN"
	TypeStepEnd      Type = "STEP_END"
	TypeConflict     Type = "CONFLICT"
	TypeABIBreakage  Type = "ABI_BREAKAGE"
	TypeUpToDate     Type = "UP_TO_DATE"
	TypeRepoUpdated  Type = "REPO_UPDATED"
	TypeVital        Type = "VITAL"
)

// Event is the common envelope every emitted value marshals to:
// {"type": "...", "data": {...}}.
type Event struct {
	Type Type
	Data any
}

func (e Event) String() string {
	return jsonString(e)
}

// jsonString wraps e as {"type": e.Type, "data": e.Data} and marshals it,
// adapting manifest/events.go's jsonString helper (which keyed on the Go
// type name via fmt.Sprintf("%T", v) — here the event already carries an
// explicit Type field, stored under "type" instead of a reflected key).
func jsonString(e Event) string {
	wrapped := map[string]any{"type": e.Type, "data": e.Data}
	b, err := json.Marshal(wrapped)
	if err != nil {
		return fmt.Sprintf(`{"type":"ERROR","data":{"message":%q}}`, err.Error())
	}
	return string(b)
}

// Listener receives every event the core emits. Grounded on
// manifest.Listener (manifest/events.go): a bare function value, no
// interface, no registration/unregistration bookkeeping — callers that
// want multiple sinks compose listeners themselves (see Multi).
type Listener func(fmt.Stringer)

// Multi fans a single emission out to every listener in ls.
func Multi(ls ...Listener) Listener {
	return func(s fmt.Stringer) {
		for _, l := range ls {
			if l != nil {
				l(s)
			}
		}
	}
}

// Nop discards every event; used where a Listener is required but the
// caller doesn't want output (e.g. unit tests).
func Nop(fmt.Stringer) {}

// Error data payloads.

type ErrorData struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func Error(kind, message string) Event { return Event{Type: TypeError, Data: ErrorData{kind, message}} }

type NoticeData struct {
	Message string `json:"message"`
}

func Notice(message string) Event { return Event{Type: TypeNotice, Data: NoticeData{message}} }

// StepBeginData/StepEndData carry a step's package identity and, at end,
// its outcome — spec §5's STEP_BEGIN -> PROGRESS* -> STEP_END ordering.
type StepBeginData struct {
	Kind string `json:"kind"`
	UID  string `json:"uid"`
	Name string `json:"name"`
}

func StepBegin(kind, uid, name string) Event {
	return Event{Type: TypeStepBegin, Data: StepBeginData{kind, uid, name}}
}

type StepEndData struct {
	Kind     string `json:"kind"`
	UID      string `json:"uid"`
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	ErrorMsg string `json:"error,omitempty"`
}

func StepEnd(kind, uid, name string, success bool, errMsg string) Event {
	return Event{Type: TypeStepEnd, Data: StepEndData{kind, uid, name, success, errMsg}}
}

type ProgressTickData struct {
	UID     string `json:"uid"`
	Current int64  `json:"current"`
	Total   int64  `json:"total"`
}

func ProgressTick(uid string, current, total int64) Event {
	return Event{Type: TypeProgressTick, Data: ProgressTickData{uid, current, total}}
}

type QueryYesNoData struct {
	Prompt  string `json:"prompt"`
	Default bool   `json:"default"`
}

func QueryYesNo(prompt string, def bool) Event {
	return Event{Type: TypeQueryYesNo, Data: QueryYesNoData{prompt, def}}
}

type QuerySelectData struct {
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

func QuerySelect(prompt string, options []string) Event {
	return Event{Type: TypeQuerySelect, Data: QuerySelectData{prompt, options}}
}

type ConflictData struct {
	Path   string `json:"path"`
	Owner1 string `json:"owner1"`
	Owner2 string `json:"owner2"`
}

func Conflict(path, owner1, owner2 string) Event {
	return Event{Type: TypeConflict, Data: ConflictData{path, owner1, owner2}}
}

type ABIBreakageData struct {
	Library     string `json:"library"`
	Dependent   string `json:"dependent"`
	BackedUpAs  string `json:"backed_up_as,omitempty"`
}

func ABIBreakage(library, dependent, backedUpAs string) Event {
	return Event{Type: TypeABIBreakage, Data: ABIBreakageData{library, dependent, backedUpAs}}
}

type VitalData struct {
	Name string `json:"name"`
}

func Vital(name string) Event { return Event{Type: TypeVital, Data: VitalData{name}} }

type UpToDateData struct {
	Repository string `json:"repository"`
}

func UpToDate(repo string) Event { return Event{Type: TypeUpToDate, Data: UpToDateData{repo}} }

type RepoUpdatedData struct {
	Repository string `json:"repository"`
	Digest     string `json:"digest"`
	PackageCount int  `json:"package_count"`
}

func RepoUpdated(repo, digest string, packageCount int) Event {
	return Event{Type: TypeRepoUpdated, Data: RepoUpdatedData{repo, digest, packageCount}}
}
