package curriculum

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/mathgaling/tutor/internal/platform/apperr"
)

var codePattern = regexp.MustCompile(`^G(\d+)-([A-Z][A-Z0-9]*)-(\d+)$`)

// Code is a parsed curriculum code of the form G<grade>-<AREA>-<index>.
type Code struct {
	Grade int
	Area  string
	Index int
}

// ParseCode parses a curriculum code such as "G3-NS-12".
func ParseCode(s string) (Code, error) {
	m := codePattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return Code{}, apperr.Validation("curriculum code %q does not match G<grade>-<AREA>-<index>", s)
	}
	grade, err := strconv.Atoi(m[1])
	if err != nil {
		return Code{}, apperr.Validation("curriculum code %q: bad grade", s)
	}
	index, err := strconv.Atoi(m[3])
	if err != nil {
		return Code{}, apperr.Validation("curriculum code %q: bad index", s)
	}
	return Code{Grade: grade, Area: m[2], Index: index}, nil
}

func (c Code) String() string {
	return fmt.Sprintf("G%d-%s-%d", c.Grade, c.Area, c.Index)
}

// Compare orders codes by grade, then area, then index, all numerically where numeric.
func (c Code) Compare(o Code) int {
	if n := cmp.Compare(c.Grade, o.Grade); n != 0 {
		return n
	}
	if n := strings.Compare(c.Area, o.Area); n != 0 {
		return n
	}
	return cmp.Compare(c.Index, o.Index)
}

// CompareCodes orders two raw curriculum codes. Parseable codes sort before
// unparseable ones; unparseable codes compare as plain strings.
func CompareCodes(a, b string) int {
	ca, errA := ParseCode(a)
	cb, errB := ParseCode(b)
	switch {
	case errA == nil && errB == nil:
		return ca.Compare(cb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

// SortKnowledgeComponents sorts kcs in curriculum order, breaking ties by id.
func SortKnowledgeComponents(kcs []KnowledgeComponent) {
	slices.SortStableFunc(kcs, func(a, b KnowledgeComponent) int {
		if n := CompareCodes(a.CurriculumCode, b.CurriculumCode); n != 0 {
			return n
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
