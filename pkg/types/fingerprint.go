package types

import (
	"encoding/binary"
	"strconv"
	"strings"
	"unicode"

	"github.com/spaolacci/murmur3"
)

// Fingerprint identifies the normalized shape of a parameterized statement.
// All bindings of the same statement share one fingerprint. Zero is reserved
// and never stored.
type Fingerprint uint64

// InvalidFingerprint is the reserved "not assigned yet" value.
const InvalidFingerprint Fingerprint = 0

// Valid reports whether f may be used as a table key.
func (f Fingerprint) Valid() bool {
	return f != InvalidFingerprint
}

// String renders the fingerprint as signed decimal, which is how most query
// statistics views print query ids.
func (f Fingerprint) String() string {
	return strconv.FormatInt(int64(f), 10)
}

// Bytes returns the little-endian encoding used for hashing.
func (f Fingerprint) Bytes() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(f))
	return b[:]
}

// ParseFingerprint accepts signed or unsigned decimal.
func ParseFingerprint(s string) (Fingerprint, error) {
	if strings.HasPrefix(s, "-") {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return InvalidFingerprint, ErrInvalidFingerprint
		}
		return Fingerprint(v), nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return InvalidFingerprint, ErrInvalidFingerprint
	}
	return Fingerprint(v), nil
}

// MarshalText implements encoding.TextMarshaler. JSON carries fingerprints
// as strings so 64-bit values survive clients with float-only numbers.
func (f Fingerprint) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Fingerprint) UnmarshalText(text []byte) error {
	v, err := ParseFingerprint(string(text))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// UnmarshalJSON accepts a JSON string or number.
func (f *Fingerprint) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return f.UnmarshalText([]byte(s))
}

// FingerprintOf hashes normalized query text with murmur3. Whitespace runs are
// collapsed and keywords are case-folded outside of quoted literals, so
// "SELECT  a FROM t WHERE id = $1" and "select a from t where id = $1" share a
// fingerprint. The result is never InvalidFingerprint.
func FingerprintOf(query string) Fingerprint {
	h := murmur3.Sum64([]byte(normalize(query)))
	if h == 0 {
		h = 1
	}
	return Fingerprint(h)
}

func normalize(query string) string {
	var b strings.Builder
	b.Grow(len(query))

	var quote rune
	space := false
	for _, r := range strings.TrimSpace(query) {
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch {
		case r == '\'' || r == '"':
			quote = r
		case unicode.IsSpace(r):
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.TrimRight(strings.TrimSuffix(b.String(), ";"), " ")
}
