// Package codec maps internal numeric identifiers to the typed,
// human-shareable codes participants read off their screens and type back
// in (team join codes, participant passes).
//
// A code is a kind tag, a cohort marker, a dash and the zero-padded decimal
// id: team 1 in cohort "23" is "T23-00001". Ids wider than the padding are
// written in full without leading zeros, so the mapping stays injective.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Shivanand-hulikatti/event-registration/internal/apperr"
)

// Kind identifies what a code refers to.
type Kind int

const (
	KindParticipant Kind = iota + 1
	KindTeam
)

var kinds = []Kind{KindParticipant, KindTeam}

func (k Kind) String() string {
	switch k {
	case KindParticipant:
		return "participant"
	case KindTeam:
		return "team"
	default:
		return "unknown"
	}
}

// ParseKind resolves a kind from its name.
func ParseKind(s string) (Kind, error) {
	for _, k := range kinds {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown code kind %q", s)
}

func (k Kind) tag() string {
	switch k {
	case KindParticipant:
		return "INC"
	case KindTeam:
		return "T"
	default:
		return ""
	}
}

func (k Kind) width() int {
	switch k {
	case KindParticipant:
		return 4
	default:
		return 5
	}
}

// Codec encodes and decodes codes for one cohort.
type Codec struct {
	cohort string
	shapes map[Kind]*regexp.Regexp
}

var cohortPattern = regexp.MustCompile(`^[0-9]{1,4}$`)

// New builds a codec for the given cohort marker (1-4 digits, e.g. "23").
func New(cohort string) (*Codec, error) {
	cohort = strings.TrimSpace(cohort)
	if !cohortPattern.MatchString(cohort) {
		return nil, fmt.Errorf("cohort must be 1-4 digits, got %q", cohort)
	}
	c := &Codec{cohort: cohort, shapes: make(map[Kind]*regexp.Regexp, len(kinds))}
	for _, k := range kinds {
		// Exactly width digits, or a longer number with no leading zero.
		// 19 digits is the widest int64.
		c.shapes[k] = regexp.MustCompile(fmt.Sprintf(`^%s%s-([0-9]{%d}|[1-9][0-9]{%d,18})$`,
			k.tag(), cohort, k.width(), k.width()))
	}
	return c, nil
}

// Cohort returns the cohort marker.
func (c *Codec) Cohort() string { return c.cohort }

// Encode returns the code for id. id must be non-negative and kind one of
// the declared kinds; Encode panics otherwise.
func (c *Codec) Encode(kind Kind, id int64) string {
	if id < 0 {
		panic(fmt.Sprintf("codec: negative id %d", id))
	}
	tag := kind.tag()
	if tag == "" {
		panic(fmt.Sprintf("codec: unknown kind %d", kind))
	}
	return fmt.Sprintf("%s%s-%0*d", tag, c.cohort, kind.width(), id)
}

// Decode resolves any code to its kind and numeric id. Malformed input
// fails with apperr.ErrInvalidFormat.
func (c *Codec) Decode(code string) (Kind, int64, error) {
	code = normalize(code)
	for _, k := range kinds {
		if id, ok := c.match(k, code); ok {
			return k, id, nil
		}
	}
	return 0, 0, invalid(code)
}

// DecodeAs resolves a code that must be of the given kind.
func (c *Codec) DecodeAs(kind Kind, code string) (int64, error) {
	code = normalize(code)
	if id, ok := c.match(kind, code); ok {
		return id, nil
	}
	return 0, invalid(code)
}

func (c *Codec) match(kind Kind, code string) (int64, bool) {
	shape, ok := c.shapes[kind]
	if !ok {
		return 0, false
	}
	m := shape.FindStringSubmatch(code)
	if m == nil {
		return 0, false
	}
	// The shape check guarantees digits only; overflow is the one way left
	// for the conversion to fail.
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func invalid(code string) error {
	return apperr.New(apperr.KindInvalidFormat, fmt.Sprintf("%q is not a valid code", code))
}
