// Feedloom - Personalized Content Feed Engine
// Copyright 2026 Feedloom Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/feedloom/feedloom

// Package vector provides fixed-dimension embedding primitives shared by the
// interest store, the similarity index and the update ingestion path.
//
// All embeddings in the system are 384-dimensional and stored L2-normalized.
// Vectors are kept as float32 (half the memory of float64 at catalog scale)
// with float64 accumulation in dot products to limit rounding drift.
package vector

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Dim is the fixed embedding dimensionality. Client devices compute
// embeddings with a sentence-transformer model whose output is 384-wide;
// every stored or submitted vector must match.
const Dim = 384

// Norm bounds accepted on ingestion. A well-formed client vector is close to
// unit length; anything far outside this range indicates corruption in
// transit or a broken client encoder.
const (
	MinNorm = 0.5
	MaxNorm = 2.0
)

// Epsilon is the tolerance used when checking unit length.
const Epsilon = 1e-6

// Vector is a fixed-dimension embedding.
type Vector []float32

// Zero returns the neutral all-zeros vector used for freshly created
// profiles. It is the single permitted exception to the unit-norm invariant.
func Zero() Vector {
	return make(Vector, Dim)
}

// Validate checks dimensionality, rejects NaN/Inf components and enforces
// the sane norm range. It returns a descriptive error for each failure mode
// so callers can surface the exact defect to clients.
func Validate(v Vector) error {
	if len(v) != Dim {
		return fmt.Errorf("dimension mismatch: got %d, want %d", len(v), Dim)
	}

	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) {
			return fmt.Errorf("component %d is NaN", i)
		}
		if math.IsInf(f, 0) {
			return fmt.Errorf("component %d is infinite", i)
		}
		sum += f * f
	}

	norm := math.Sqrt(sum)
	if norm < MinNorm || norm > MaxNorm {
		return fmt.Errorf("norm %.6f outside accepted range [%g, %g]", norm, MinNorm, MaxNorm)
	}

	return nil
}

// Norm2 returns the L2 norm.
func Norm2(v Vector) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a unit-length copy of v. The zero vector normalizes to
// itself so the neutral profile stays neutral through merges.
func Normalize(v Vector) Vector {
	out := make(Vector, len(v))
	norm := Norm2(v)
	if norm == 0 {
		return out
	}
	inv := float32(1 / norm)
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// Dot returns the inner product of a and b. For pre-normalized vectors this
// is the cosine similarity.
func Dot(a, b Vector) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineDistance returns 1 - cos(a, b) for unit vectors. Used to report how
// far a profile moved after a merge.
func CosineDistance(a, b Vector) float64 {
	return 1 - Dot(a, b)
}

// Scale returns v scaled by s.
func Scale(v Vector, s float32) Vector {
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = x * s
	}
	return out
}

// Lerp returns alpha*a + (1-alpha)*b without normalizing.
func Lerp(a, b Vector, alpha float32) Vector {
	out := make(Vector, len(a))
	beta := 1 - alpha
	for i := range a {
		out[i] = alpha*a[i] + beta*b[i]
	}
	return out
}

// EncodedSize is the byte length of a marshalled vector.
const EncodedSize = Dim * 4

// Marshal encodes v as little-endian float32, the on-disk representation
// used by the catalog store. Exact bit patterns round-trip.
func Marshal(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// Unmarshal decodes a vector previously produced by Marshal.
func Unmarshal(buf []byte) (Vector, error) {
	if len(buf) != EncodedSize {
		return nil, fmt.Errorf("encoded vector is %d bytes, want %d", len(buf), EncodedSize)
	}
	v := make(Vector, Dim)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v, nil
}

// IsZero reports whether every component is exactly zero (the neutral
// profile embedding).
func IsZero(v Vector) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
