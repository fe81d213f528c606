package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// KeyLength is the number of hex characters kept from the SHA-256 digest.
//
// 16 hex characters are 64 bits: a 50% chance of any collision needs about
// 4 billion distinct entries, and one million entries carry roughly a 1 in
// 37 million chance. Short file names are worth that for a per-user cache;
// widen it before sharing one directory across very large key spaces.
const KeyLength = 16

// Names MakeKey sets from its arguments.
const (
	KeyProvider = "provider"
	KeySeriesID = "series_id"
)

// ErrReservedParam is returned when extra reuses a name set from the arguments.
var ErrReservedParam = errors.New("cache: reserved key parameter")

// NewKey derives the cache key for a provider series and its query parameters.
//
// provider and seriesID are merged with extra into one mapping, encoded as
// JSON with sorted keys and hashed. Values keep their JSON type, so nil,
// 1, 1.0 and "1" give different keys. Dates become YYYY-MM-DD strings and
// values JSON cannot encode fall back to their string form, so encoding
// never fails. extra may not contain provider or series_id.
func NewKey(provider, seriesID string, extra map[string]any) (string, error) {
	for _, name := range []string{KeyProvider, KeySeriesID} {
		if _, ok := extra[name]; ok {
			return "", fmt.Errorf("%w: %s", ErrReservedParam, name)
		}
	}

	merged := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		merged[k] = v
	}
	merged[KeyProvider] = provider
	merged[KeySeriesID] = seriesID

	sum := sha256.Sum256(canonical(merged))
	return hex.EncodeToString(sum[:])[:KeyLength], nil
}

// MakeKey is NewKey for callers whose parameter names are fixed in code.
// It panics when extra uses a reserved name.
func MakeKey(provider, seriesID string, extra map[string]any) string {
	key, err := NewKey(provider, seriesID, extra)
	if err != nil {
		panic(err)
	}
	return key
}

// canonical encodes m as a JSON object with sorted keys.
func canonical(m map[string]any) []byte {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range names {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSON(&buf, k)
		buf.WriteByte(':')
		writeValue(&buf, m[k])
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func writeValue(buf *bytes.Buffer, v any) {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case float64:
		buf.WriteString(formatFloat(val, 64))
	case float32:
		buf.WriteString(formatFloat(float64(val), 32))
	case time.Time:
		writeJSON(buf, stringify(val))
	case *time.Time:
		if val == nil {
			buf.WriteString("null")
			return
		}
		writeJSON(buf, stringify(*val))
	case error:
		writeJSON(buf, val.Error())
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			writeJSON(buf, stringify(val))
			return
		}
		buf.Write(encoded)
	}
}

func writeJSON(buf *bytes.Buffer, s string) {
	// strings always marshal
	encoded, _ := json.Marshal(s)
	buf.Write(encoded)
}

// formatFloat keeps a fraction on integral floats so 1.0 and 1 differ, and
// writes non-finite values as the bare tokens NaN, Infinity and -Infinity.
func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// stringify converts a value JSON cannot encode to a string without failing.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		if val.Equal(val.Truncate(24*time.Hour)) && val.Location() == time.UTC {
			return val.Format("2006-01-02")
		}
		return val.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// ValidKey reports whether key is safe to use as a file stem.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") {
		return false
	}
	return !strings.ContainsAny(key, `/\`+"\x00")
}
