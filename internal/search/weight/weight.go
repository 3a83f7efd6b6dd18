// Package weight computes the per-term scalar weight applied to every
// posting of a term. The inverse document frequency formula is a strategy
// selected by name from configuration.
package weight

import (
	"fmt"
	"math"
	"sort"
)

// DefaultWeight replaces any IDF product that is not a positive finite
// number, which happens at index boundaries such as a term present in every
// document.
const DefaultWeight float32 = 1.0

// IDF returns the inverse document frequency of a term.
type IDF func(termCount, documentCount, totalDocumentCount uint32) float64

// Cosine is ln(N/df).
func Cosine(_, documentCount, totalDocumentCount uint32) float64 {
	return math.Log(float64(totalDocumentCount) / float64(documentCount))
}

// BM25 is the Robertson/Sparck Jones IDF used by BM25 rankers,
// ln((N-df)/(df+0.5)+1).
func BM25(_, documentCount, totalDocumentCount uint32) float64 {
	n := float64(totalDocumentCount)
	df := float64(documentCount)
	return math.Log((n-df)/(df+0.5) + 1)
}

// TFIDF is the smoothed 1+ln(N/(df+1)).
func TFIDF(_, documentCount, totalDocumentCount uint32) float64 {
	return 1 + math.Log(float64(totalDocumentCount)/(float64(documentCount)+1))
}

// Probabilistic is ln((N-df)/df).
func Probabilistic(_, documentCount, totalDocumentCount uint32) float64 {
	n := float64(totalDocumentCount)
	df := float64(documentCount)
	return math.Log((n - df) / df)
}

// Flat weighs every term equally.
func Flat(_, _, _ uint32) float64 {
	return 1
}

var byName = map[string]IDF{
	"cosine":        Cosine,
	"bm25":          BM25,
	"tfidf":         TFIDF,
	"probabilistic": Probabilistic,
	"flat":          Flat,
}

// Lookup returns the IDF registered under name.
func Lookup(name string) (IDF, error) {
	if name == "" {
		return Cosine, nil
	}
	idf, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown idf %q (known: %v)", name, Names())
	}
	return idf, nil
}

func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Calculator applies an IDF to a caller-supplied weight.
type Calculator struct {
	IDF IDF
}

func NewCalculator(idf IDF) Calculator {
	if idf == nil {
		idf = Cosine
	}
	return Calculator{IDF: idf}
}

// Adjusted returns IDF * supplied, or DefaultWeight when that product is not
// a positive finite number.
func (c Calculator) Adjusted(termCount, documentCount, totalDocumentCount uint32, supplied float32) float32 {
	idf := c.IDF
	if idf == nil {
		idf = Cosine
	}
	w := idf(termCount, documentCount, totalDocumentCount) * float64(supplied)
	if math.IsNaN(w) || math.IsInf(w, 0) || w <= 0 {
		return DefaultWeight
	}
	// A finite product can still overflow float32 or underflow to zero.
	adjusted := float32(w)
	if adjusted <= 0 || math.IsInf(float64(adjusted), 0) {
		return DefaultWeight
	}
	return adjusted
}
