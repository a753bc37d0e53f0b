package models

import (
	"strings"
)

// SizeSet is an ordered, duplicate-free list of normalized size labels.
type SizeSet []string

// NormalizeSize upper-cases a label and collapses inner whitespace.
func NormalizeSize(label string) string {
	return strings.ToUpper(strings.Join(strings.Fields(label), " "))
}

// NewSizeSet normalizes labels, dropping blanks and duplicates while keeping first-seen order.
func NewSizeSet(labels ...string) SizeSet {
	set := make(SizeSet, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		n := NormalizeSize(l)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		set = append(set, n)
	}
	return set
}

func (s SizeSet) Contains(label string) bool {
	n := NormalizeSize(label)
	for _, v := range s {
		if v == n {
			return true
		}
	}
	return false
}

// Intersect returns the labels of candidates that are also in s, in candidate order.
func (s SizeSet) Intersect(candidates ...string) SizeSet {
	var out SizeSet
	for _, c := range NewSizeSet(candidates...) {
		if s.Contains(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s SizeSet) String() string {
	return strings.Join(s, ", ")
}
