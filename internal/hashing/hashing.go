// Package hashing provides the 32-bit rolling hashes used to build request
// fingerprints. All algorithms are deterministic across processes and
// platforms; none are cryptographic.
package hashing

import "strconv"

// Algorithm selects one of the supported rolling hash functions.
type Algorithm string

const (
	// Simple is a Java-style additive hash (h*31 + c).
	Simple Algorithm = "simple"
	// DJB2 is Bernstein's hash (h*33 + c) seeded with 5381.
	DJB2 Algorithm = "djb2"
	// FNV1a is the 32-bit Fowler-Noll-Vo 1a hash.
	FNV1a Algorithm = "fnv1a"
)

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	switch a {
	case Simple, DJB2, FNV1a:
		return true
	}
	return false
}

// Sum returns the 32-bit hash of s under the given algorithm. Unknown
// algorithms fall back to DJB2 so a misconfigured caller still gets a
// stable key rather than a zero one.
func Sum(a Algorithm, s string) uint32 {
	switch a {
	case Simple:
		return simpleSum(s)
	case FNV1a:
		return fnv1aSum(s)
	default:
		return djb2Sum(s)
	}
}

// Short returns the hash reduced to a compact base-36 string.
func Short(a Algorithm, s string) string {
	return strconv.FormatUint(uint64(Sum(a, s)), 36)
}

func simpleSum(s string) uint32 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return h
}

func djb2Sum(s string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}

func fnv1aSum(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
