package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Form selects the manifest's surface syntax: Compact is single-line,
// Pretty is indented block form. Both are the same JSON object structure
// (spec §4.3): parse(emit(pkg, f)) == pkg for either form.
type Form int

const (
	Compact Form = iota
	Pretty
)

// knownFields is the whitelist the lenient parser checks unrecognized
// top-level keys against, taken from the json tags on Package.
var knownFields = func() map[string]bool {
	m := make(map[string]bool)
	for _, f := range []FieldKey{
		FieldName, FieldVersion, FieldOrigin, FieldUID, FieldMaintainer, FieldPrefix,
		FieldDesc, FieldComment, FieldWWW, FieldABI, FieldFlatSize, FieldAutomatic,
		FieldLocked, FieldVital, FieldDigest, FieldDeps, FieldFiles, FieldDirs,
		FieldOptions, FieldCategories, FieldLicenses, FieldAnnotations, FieldScripts,
		FieldShlibsRequired, FieldShlibsProvided, FieldRequires, FieldProvides,
		FieldUsers, FieldGroups, FieldMessages,
	} {
		m[string(f)] = true
	}
	m["reason"] = true
	m["time_installed"] = true
	return m
}()

// Warning is a single lenient-parse diagnostic: an unrecognized top-level
// key was present and was ignored, per spec §4.3 ("unknown top-level keys
// are ignored with a warning event").
type Warning struct {
	Field string
}

func (w Warning) String() string {
	return fmt.Sprintf("manifest: ignoring unknown field %q", w.Field)
}

// Emit serializes pkg in the requested Form. The emitter is strict: it
// never writes a field outside Package's declared json tags, and (because
// Go's encoding/json always walks struct fields in declaration order) the
// field order is stable across calls, satisfying the reproducibility
// requirement of spec §4.3.
func Emit(pkg *Package, form Form) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	switch form {
	case Pretty:
		data, err = json.MarshalIndent(pkg, "", "  ")
	default:
		data, err = json.Marshal(pkg)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: emit: %w", err)
	}
	return data, nil
}

// Parse decodes data (in either Form — the two are structurally
// indistinguishable once whitespace is stripped) into a Package. Unknown
// top-level keys are ignored and reported as Warnings rather than causing
// an error, per spec §4.3's lenient-parser requirement.
func Parse(data []byte) (*Package, []Warning, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("manifest: parse: %w", err)
	}

	var warnings []Warning
	for key := range raw {
		if !knownFields[key] {
			warnings = append(warnings, Warning{Field: key})
		}
	}

	var pkg Package
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&pkg); err != nil {
		return nil, warnings, fmt.Errorf("manifest: parse: %w", err)
	}
	return &pkg, warnings, nil
}
