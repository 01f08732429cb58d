// Package face compares face embeddings and talks to the external embedding extractor.
package face

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// Metric selects the distance function used by a Comparator.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// Match thresholds on distance. A pair matches when its distance is strictly below.
const (
	CosineThreshold    = 0.4
	EuclideanThreshold = 10.0

	// euclideanScale is the distance at which euclidean confidence reaches zero.
	euclideanScale = 20.0
)

// Embedding is a face feature vector. Comparisons only make sense between
// vectors produced by the same extractor model.
type Embedding []float64

// ParseEmbedding decodes a JSON array of numbers.
func ParseEmbedding(encoded string) (Embedding, error) {
	var e Embedding
	if err := json.Unmarshal([]byte(encoded), &e); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedEmbedding, err)
	}
	if len(e) == 0 {
		return nil, fmt.Errorf("%w: empty vector", domain.ErrMalformedEmbedding)
	}
	for _, v := range e {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite component", domain.ErrMalformedEmbedding)
		}
	}
	return e, nil
}

// Encode returns the JSON form stored alongside a beneficiary.
func (e Embedding) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Match is the outcome of comparing two embeddings.
type Match struct {
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
	Distance   float64 `json:"distance"`
}

// Comparator compares embeddings with a metric fixed at construction.
// It is stateless and safe for concurrent use.
type Comparator struct {
	metric Metric
}

// NewComparator creates a comparator. An empty metric selects cosine.
func NewComparator(metric Metric) (*Comparator, error) {
	switch metric {
	case "":
		metric = MetricCosine
	case MetricCosine, MetricEuclidean:
	default:
		return nil, fmt.Errorf("%w: unsupported metric %q", domain.ErrValidation, metric)
	}
	return &Comparator{metric: metric}, nil
}

// Metric returns the configured metric.
func (c *Comparator) Metric() Metric {
	return c.metric
}

// Compare scores two embeddings. On error the returned Match is a non-match with
// zero confidence, which callers may use as-is.
func (c *Comparator) Compare(a, b Embedding) (Match, error) {
	if len(a) == 0 || len(a) != len(b) {
		return Match{}, fmt.Errorf("%w: dimension %d vs %d", domain.ErrMalformedEmbedding, len(a), len(b))
	}

	if c.metric == MetricEuclidean {
		d := euclideanDistance(a, b)
		if !isFinite(d) {
			return Match{}, fmt.Errorf("%w: distance is not finite", domain.ErrMalformedEmbedding)
		}
		return Match{
			IsMatch:    d < EuclideanThreshold,
			Confidence: round2(math.Max(0, (1-d/euclideanScale)*100)),
			Distance:   d,
		}, nil
	}

	d := cosineDistance(a, b)
	if !isFinite(d) {
		return Match{}, fmt.Errorf("%w: distance is not finite", domain.ErrMalformedEmbedding)
	}
	return Match{
		IsMatch:    d < CosineThreshold,
		Confidence: round2((1 - d) * 100),
		Distance:   d,
	}, nil
}

// CompareEncoded parses both JSON embeddings and compares them.
func (c *Comparator) CompareEncoded(a, b string) (Match, error) {
	ea, err := ParseEmbedding(a)
	if err != nil {
		return Match{}, err
	}
	eb, err := ParseEmbedding(b)
	if err != nil {
		return Match{}, err
	}
	return c.Compare(ea, eb)
}

// cosineDistance is 1 - cos(a, b), or 1 when either vector has zero norm.
func cosineDistance(a, b Embedding) float64 {
	dot, na, nb := cosineSums(a, b, 1, 1)
	if math.IsInf(dot, 0) || math.IsInf(na, 0) || math.IsInf(nb, 0) {
		// Large components overflow the sums; cosine is scale-invariant.
		dot, na, nb = cosineSums(a, b, maxAbs(a), maxAbs(b))
	}
	if na == 0 || nb == 0 {
		return 1.0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - math.Max(-1, math.Min(1, cos))
}

func cosineSums(a, b Embedding, sa, sb float64) (dot, na, nb float64) {
	for i := range a {
		x, y := a[i]/sa, b[i]/sb
		dot += x * y
		na += x * x
		nb += y * y
	}
	return dot, na, nb
}

func euclideanDistance(a, b Embedding) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	if !math.IsInf(sum, 0) {
		return math.Sqrt(sum)
	}

	// Scale by the largest difference, as math.Hypot does.
	var scale float64
	for i := range a {
		scale = math.Max(scale, math.Abs(a[i]-b[i]))
	}
	sum = 0
	for i := range a {
		d := (a[i] - b[i]) / scale
		sum += d * d
	}
	return scale * math.Sqrt(sum)
}

func maxAbs(v Embedding) float64 {
	var m float64
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
