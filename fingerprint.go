package resilience

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alonbtm/abt-universal-search-sub010/internal/hashing"
)

// FingerprintStatus tracks the lifecycle of a fingerprinted request.
type FingerprintStatus string

const (
	StatusPending   FingerprintStatus = "pending"
	StatusCompleted FingerprintStatus = "completed"
	StatusFailed    FingerprintStatus = "failed"
)

// RequestFingerprint identifies a logical request by its normalized query and
// parameter set. All fields except Status are immutable after creation.
type RequestFingerprint struct {
	Hash            string
	NormalizedQuery string
	ParamsHash      string
	DataSource      string
	CreatedAt       time.Time
	Status          FingerprintStatus
}

// Fingerprinter reduces a query plus an opaque parameter map to a stable
// short key. Two parameter maps with the same key/value pairs always produce
// the same key regardless of insertion order.
type Fingerprinter struct {
	algorithm hashing.Algorithm
}

// NewFingerprinter returns a Fingerprinter using the given hash algorithm.
// Unknown algorithms fall back to djb2.
func NewFingerprinter(alg HashAlgorithm) *Fingerprinter {
	a := hashing.Algorithm(alg)
	if !a.Valid() {
		a = hashing.DJB2
	}
	return &Fingerprinter{algorithm: a}
}

// Fingerprint builds a RequestFingerprint for the call. The data source, when
// present, is read from params["dataSource"].
func (f *Fingerprinter) Fingerprint(query string, params map[string]any) *RequestFingerprint {
	normalized := normalizeQuery(query)
	encoded := sortedStringify(params)

	source := ""
	if s, ok := params["dataSource"].(string); ok {
		source = s
	}

	return &RequestFingerprint{
		Hash:            hashing.Short(f.algorithm, normalized+":"+encoded),
		NormalizedQuery: normalized,
		ParamsHash:      hashing.Short(f.algorithm, encoded),
		DataSource:      source,
		CreatedAt:       time.Now(),
		Status:          StatusPending,
	}
}

// Key returns only the short hash for the call, for callers that do not need
// the full fingerprint record.
func (f *Fingerprinter) Key(query string, params map[string]any) string {
	return hashing.Short(f.algorithm, normalizeQuery(query)+":"+sortedStringify(params))
}

// normalizeQuery lowercases, trims and collapses internal whitespace so
// queries differing only in spacing or case share a fingerprint.
func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// sortedStringify serializes a value with map keys in sorted order, giving a
// deterministic encoding independent of map iteration order.
func sortedStringify(v any) string {
	var b strings.Builder
	writeSorted(&b, v)
	return b.String()
}

func writeSorted(b *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strconv.Quote(val))
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case int:
		b.WriteString(strconv.Itoa(val))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case float64:
		b.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			writeSorted(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeSorted(b, item)
		}
		b.WriteByte(']')
	default:
		// Uncommon types still need a deterministic encoding.
		b.WriteString(strconv.Quote(fmt.Sprintf("%v", val)))
	}
}
