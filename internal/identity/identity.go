package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// SourcePrefix namespaces identifiers derived from source filenames.
const SourcePrefix = "src_"

// digestLen is the number of hex digits kept from the SHA-256 digest in a
// derived ID. 48 bits is plenty for a single registry while keeping IDs
// readable in logs and on disk.
const digestLen = 12

var operationPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var derivedPattern = regexp.MustCompile(`^([a-z][a-z0-9_]*)_([0-9a-f]{12})$`)

// SourceID maps a filename to its deterministic source identifier. The
// directory portion is stripped, every non-alphanumeric rune (extension dot
// included) becomes an underscore, runs of underscores collapse, and the
// whole name is lowercased. SourceID is total: any input, including the
// empty string, yields a usable ID.
func SourceID(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}

	var b strings.Builder
	b.Grow(len(base))
	lastUnderscore := true // suppress a leading underscore
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	normalized := strings.TrimSuffix(b.String(), "_")
	if normalized == "" {
		normalized = "unnamed"
	}
	return SourcePrefix + normalized
}

// ValidateOperation checks that an operation name is usable as a derived-ID
// namespace: lowercase snake case, and never the reserved source prefix.
func ValidateOperation(operation string) error {
	if !operationPattern.MatchString(operation) {
		return fmt.Errorf("operation %q must match [a-z][a-z0-9_]*", operation)
	}
	if operation == "src" {
		return fmt.Errorf("operation name %q is reserved for source identifiers", operation)
	}
	return nil
}

// DerivedID computes the deterministic identifier for an artifact produced
// by applying operation to the ordered inputIDs with the given parameters.
// Empty inputIDs is legal: synthetic operations hash over operation and
// parameters alone.
func DerivedID(inputIDs []string, operation string, params map[string]any) (string, error) {
	if err := ValidateOperation(operation); err != nil {
		return "", err
	}

	h := sha256.New()
	writeField(h, []byte(operation))
	writeField(h, countField(len(inputIDs)))
	for _, id := range inputIDs {
		writeField(h, []byte(id))
	}
	canonical := CanonicalParams(params)
	writeField(h, countField(len(canonical)))
	for _, p := range canonical {
		writeField(h, []byte(p.Key))
		writeField(h, []byte(p.Value))
	}

	digest := hex.EncodeToString(h.Sum(nil))
	return operation + "_" + digest[:digestLen], nil
}

// ParseDerivedID splits an identifier (or a filename stem) that follows the
// derived naming convention into its operation and digest parts.
func ParseDerivedID(id string) (operation, digest string, ok bool) {
	m := derivedPattern.FindStringSubmatch(id)
	if m == nil {
		return "", "", false
	}
	if m[1] == "src" {
		return "", "", false
	}
	return m[1], m[2], true
}

// Param is one canonicalized key/value pair of a parameter set.
type Param struct {
	Key   string
	Value string
}

// CanonicalParams reduces a parameter map to its canonical sorted key/value
// form. This is the single normalization routine shared by the hashing path
// and the operation builders, so a parameter set always hashes and executes
// the same way.
func CanonicalParams(params map[string]any) []Param {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Param, 0, len(keys))
	for _, k := range keys {
		out = append(out, Param{Key: k, Value: CanonicalValue(params[k])})
	}
	return out
}

// CanonicalValue renders a single parameter value in its canonical textual
// form. Nested lists and maps canonicalize recursively.
func CanonicalValue(value any) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float32:
		return canonicalFloat(float64(v))
	case float64:
		return canonicalFloat(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = CanonicalValue(item)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case map[string]any:
		canonical := CanonicalParams(v)
		parts := make([]string, len(canonical))
		for i, p := range canonical {
			parts[i] = p.Key + "=" + p.Value
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

// canonicalFloat renders integral floats as plain integers and everything
// else with fixed six-decimal precision. JSON does not distinguish 5 from
// 5.0, so neither can the ID.
func canonicalFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 0, 64)
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// writeField writes a length-prefixed field so adjacent values can never be
// confused for one another regardless of their content.
func writeField(h interface{ Write([]byte) (int, error) }, data []byte) {
	length := uint64(len(data))
	prefix := []byte{
		byte(length >> 56),
		byte(length >> 48),
		byte(length >> 40),
		byte(length >> 32),
		byte(length >> 24),
		byte(length >> 16),
		byte(length >> 8),
		byte(length),
	}
	h.Write(prefix)
	h.Write(data)
}

func countField(n int) []byte {
	return []byte(strconv.Itoa(n))
}
