// Package algo contains the sorted-array primitives used by b+ tree nodes and
// data blocks.
package algo

import "sort"

const searchThreshold = 32

// LowerBound returns the index of the first element of s that is not less
// than target. It returns len(s) when every element is smaller.
func LowerBound[E any](s []E, target E, cmp func(a, b E) int) int {
	if len(s) < searchThreshold {
		i := 0
		for i < len(s) && cmp(s[i], target) < 0 {
			i++
		}
		return i
	}

	return sort.Search(len(s), func(i int) bool {
		return cmp(s[i], target) >= 0
	})
}

// UpperBound returns the index of the first element of s that is greater
// than target.
func UpperBound[E any](s []E, target E, cmp func(a, b E) int) int {
	if len(s) < searchThreshold {
		i := 0
		for i < len(s) && cmp(s[i], target) <= 0 {
			i++
		}
		return i
	}

	return sort.Search(len(s), func(i int) bool {
		return cmp(s[i], target) > 0
	})
}

// Find returns the insert position of target in s and whether s[pos] equals
// target.
func Find[E any](s []E, target E, cmp func(a, b E) int) (int, bool) {
	pos := LowerBound(s, target, cmp)
	return pos, pos < len(s) && cmp(s[pos], target) == 0
}

// InsertAt inserts v at index in slice
func InsertAt[E any](slice []E, index int, v E) []E {
	var zero E
	slice = append(slice, zero)
	copy(slice[index+1:], slice[index:])
	slice[index] = v
	return slice
}

// RemoveAt removes element at index from slice
func RemoveAt[E any](slice []E, index int) []E {
	copy(slice[index:], slice[index+1:])
	var zero E
	slice[len(slice)-1] = zero
	return slice[:len(slice)-1]
}
