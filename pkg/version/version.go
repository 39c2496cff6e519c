// Package version implements the total-order version comparison algorithm
// of spec §4.6: numeric runs, alphabetic runs, separators, an explicit
// epoch prefix, and a port-revision suffix.
//
// The component-splitting approach is grounded on deb.BumpVersion and
// deb/repository.go's splitVersion/compareVersions (util.go, repository.go
// in the teacher repository), which already treat a version as "base plus
// a hyphen-delimited revision" compared component-wise; this package
// generalizes that idea to the richer component grammar the spec requires.
package version

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Relation is the result of a comparison: always one of Less, Equal, Greater.
type Relation int

const (
	Less Relation = iota - 1
	Equal
	Greater
)

func (r Relation) String() string {
	switch r {
	case Less:
		return "<"
	case Greater:
		return ">"
	default:
		return "="
	}
}

var revisionRE = regexp.MustCompile(`_([0-9]+)$`)

type token struct {
	numeric bool
	num     *big.Int
	alpha   string
}

// kindRank orders the three component kinds so "nothing" (nil token, a
// version with fewer components) sorts between an alpha run and a numeric
// run: alpha < nothing < numeric. This reproduces cmp("1.0a","1.0") < 0
// (alpha < nothing) and the usual cmp("1.2","1.2.1") < 0 (nothing < numeric).
func kindRank(t *token) int {
	switch {
	case t == nil:
		return 1
	case t.numeric:
		return 2
	default:
		return 0
	}
}

func tokenize(s string) []token {
	var toks []token
	var buf strings.Builder
	var bufNumeric bool
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		if bufNumeric {
			n := new(big.Int)
			n.SetString(buf.String(), 10)
			toks = append(toks, token{numeric: true, num: n})
		} else {
			toks = append(toks, token{alpha: buf.String()})
		}
		buf.Reset()
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			if buf.Len() > 0 && !bufNumeric {
				flush()
			}
			bufNumeric = true
			buf.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == '+' || r == ',':
			flush()
		default:
			if buf.Len() > 0 && bufNumeric {
				flush()
			}
			bufNumeric = false
			buf.WriteRune(r)
		}
	}
	flush()
	return toks
}

// parsed is a version broken into its three comparison tiers: epoch,
// ordered token runs, and port revision.
type parsed struct {
	epoch    *big.Int
	tokens   []token
	revision *big.Int // nil if the version has no _N suffix
}

func parse(v string) parsed {
	epoch := big.NewInt(0)
	rest := v
	if idx := strings.IndexByte(v, ','); idx > 0 {
		if isAllDigits(v[:idx]) {
			epoch.SetString(v[:idx], 10)
			rest = v[idx+1:]
		}
	}

	var revision *big.Int
	base := rest
	if m := revisionRE.FindStringSubmatch(rest); m != nil {
		revision = new(big.Int)
		revision.SetString(m[1], 10)
		base = rest[:len(rest)-len(m[0])]
	}

	return parsed{epoch: epoch, tokens: tokenize(base), revision: revision}
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func relationOf(c int) Relation {
	switch {
	case c < 0:
		return Less
	case c > 0:
		return Greater
	default:
		return Equal
	}
}

// Compare returns the total-order relation of a to b. It is reflexive,
// antisymmetric, and transitive (spec §8 invariant 5).
func Compare(a, b string) Relation {
	pa, pb := parse(a), parse(b)

	if c := pa.epoch.Cmp(pb.epoch); c != 0 {
		return relationOf(c)
	}

	n := len(pa.tokens)
	if len(pb.tokens) > n {
		n = len(pb.tokens)
	}
	for i := 0; i < n; i++ {
		var ta, tb *token
		if i < len(pa.tokens) {
			ta = &pa.tokens[i]
		}
		if i < len(pb.tokens) {
			tb = &pb.tokens[i]
		}
		ra, rb := kindRank(ta), kindRank(tb)
		if ra != rb {
			return relationOf(ra - rb)
		}
		switch {
		case ta == nil && tb == nil:
			continue
		case ta.numeric:
			if c := ta.num.Cmp(tb.num); c != 0 {
				return relationOf(c)
			}
		default:
			if c := strings.Compare(ta.alpha, tb.alpha); c != 0 {
				return relationOf(c)
			}
		}
	}

	ra, rb := revisionValue(pa.revision), revisionValue(pb.revision)
	return relationOf(ra.Cmp(rb))
}

func revisionValue(r *big.Int) *big.Int {
	if r == nil {
		return big.NewInt(0)
	}
	return r
}

// Equal reports whether a and b compare equal.
func Equal(a, b string) bool { return Compare(a, b) == Equal }

// Constraint is a version_constraint as defined in the data model (§3): an
// operator plus a version, or the zero value meaning "any".
type Constraint struct {
	Op      Op
	Version string
}

// Op is one of the constraint operators {=, <, <=, >, >=}.
type Op int

const (
	Any Op = iota
	Eq
	Lt
	Le
	Gt
	Ge
)

func ParseOp(s string) (Op, error) {
	switch s {
	case "", "any":
		return Any, nil
	case "=", "==":
		return Eq, nil
	case "<":
		return Lt, nil
	case "<=", "≤":
		return Le, nil
	case ">":
		return Gt, nil
	case ">=", "≥":
		return Ge, nil
	default:
		return Any, fmt.Errorf("version: unknown constraint operator %q", s)
	}
}

// Satisfies reports whether candidate satisfies the constraint.
func (c Constraint) Satisfies(candidate string) bool {
	if c.Op == Any {
		return true
	}
	rel := Compare(candidate, c.Version)
	switch c.Op {
	case Eq:
		return rel == Equal
	case Lt:
		return rel == Less
	case Le:
		return rel == Less || rel == Equal
	case Gt:
		return rel == Greater
	case Ge:
		return rel == Greater || rel == Equal
	default:
		return false
	}
}
