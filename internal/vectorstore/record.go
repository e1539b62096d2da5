package vectorstore

import (
	"math"
	"time"
)

// Record is one stored segment with its embedding.
type Record struct {
	Text      string
	Vector    []float32
	Source    string
	CreatedAt time.Time
}

// Result is a Record with its similarity to a query.
type Result struct {
	Record Record
	Score  float64
}

// normalizeTime strips the monotonic clock reading and location so a
// record compares equal to its decoded copy.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// CosineSimilarity returns dot(a, b) / (|a| |b|), or 0 when either vector
// has zero magnitude. a and b must have equal length.
func CosineSimilarity(a, b []float32) float64 {
	return cosine(a, magnitude(a), b)
}

func cosine(q []float32, qmag float64, v []float32) float64 {
	if qmag == 0 {
		return 0
	}
	var dot, sum float64
	for i := range v {
		x := float64(v[i])
		dot += float64(q[i]) * x
		sum += x * x
	}
	if sum == 0 {
		return 0
	}
	return dot / (qmag * math.Sqrt(sum))
}
