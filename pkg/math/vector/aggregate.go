package vector

// AddScaled accumulates weight*src into dst elementwise: dst[i] += weight*src[i].
// The two slices must have equal length; mismatches are a no-op so that a
// caller-side length check stays the single source of dimension errors.
//
// Building a preference profile is repeated AddScaled calls over one
// destination buffer:
//
//	profile := make([]float64, dims)
//	for _, r := range ratings {
//	    AddScaled(profile, r.Value, vectors[r.Item])
//	}
func AddScaled(dst []float64, weight float64, src []float64) {
	if len(dst) != len(src) {
		return
	}
	for i := range src {
		dst[i] += weight * src[i]
	}
}

// IsZero reports whether every component of v is exactly zero.
// Empty vectors are zero.
func IsZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
