package manifest

// FieldKey names a top-level manifest field. Modeled on deb.ControlField
// (deb/constants.go in the teacher repository): a typed string-constant
// enum rather than bare string literals scattered through the codec.
type FieldKey string

// Mandatory fields, spec §4.3.
const (
	FieldName       FieldKey = "name"
	FieldVersion    FieldKey = "version"
	FieldOrigin     FieldKey = "origin"
	FieldMaintainer FieldKey = "maintainer"
	FieldPrefix     FieldKey = "prefix"
	FieldDesc       FieldKey = "desc"
	FieldComment    FieldKey = "comment"
	FieldWWW        FieldKey = "www"
	FieldABI        FieldKey = "abi"
)

// Optional collection fields, spec §4.3.
const (
	FieldDeps            FieldKey = "deps"
	FieldFiles           FieldKey = "files"
	FieldDirs            FieldKey = "dirs"
	FieldOptions         FieldKey = "options"
	FieldCategories      FieldKey = "categories"
	FieldLicenses        FieldKey = "licenses"
	FieldAnnotations     FieldKey = "annotations"
	FieldScripts         FieldKey = "scripts"
	FieldShlibsRequired  FieldKey = "shlibs_required"
	FieldShlibsProvided  FieldKey = "shlibs_provided"
	FieldRequires        FieldKey = "requires"
	FieldProvides        FieldKey = "provides"
	FieldUsers           FieldKey = "users"
	FieldGroups          FieldKey = "groups"
	FieldMessages        FieldKey = "messages"
	FieldUID             FieldKey = "uid"
	FieldFlatSize        FieldKey = "flatsize"
	FieldAutomatic       FieldKey = "automatic"
	FieldLocked          FieldKey = "locked"
	FieldVital           FieldKey = "vital"
	FieldDigest          FieldKey = "digest"
)

// mandatoryFields is the ordered set checked by Validate.
var mandatoryFields = []FieldKey{
	FieldName, FieldVersion, FieldOrigin, FieldMaintainer,
	FieldPrefix, FieldDesc, FieldComment, FieldWWW, FieldABI,
}

// EntryType is the File entry's `type` discriminant (spec §3).
type EntryType string

const (
	TypeRegular   EntryType = "regular"
	TypeSymlink   EntryType = "symlink"
	TypeDirectory EntryType = "directory"
)

// ScriptKind is the install-lifecycle point a Script runs at (spec §3).
type ScriptKind string

const (
	PreInstall    ScriptKind = "pre-install"
	PostInstall   ScriptKind = "post-install"
	PreDeinstall  ScriptKind = "pre-deinstall"
	PostDeinstall ScriptKind = "post-deinstall"
	PreUpgrade    ScriptKind = "pre-upgrade"
	PostUpgrade   ScriptKind = "post-upgrade"
)

// ScriptLanguage is the Script's execution language (spec §3).
type ScriptLanguage string

const (
	Shell       ScriptLanguage = "shell"
	EmbeddedLua ScriptLanguage = "embedded-lua"
)

// MessageKind is when a Message (spec §4.4 `message` table) is shown.
type MessageKind string

const (
	MessageAlways  MessageKind = "always"
	MessageInstall MessageKind = "install"
	MessageUpgrade MessageKind = "upgrade"
	MessageRemove  MessageKind = "remove"
)
