package dispatch

import "iter"

// DefaultChunkSize is how many recipients go into one contract call.
const DefaultChunkSize = 100

// Chunks yields consecutive sub-slices of items of at most size elements, with their
// index. The sequence is lazy and can be ranged over any number of times; an empty
// input yields nothing. Each chunk is capacity-limited so appending to it cannot
// overwrite the next one.
func Chunks[T any](items []T, size int) iter.Seq2[int, []T] {
	if size <= 0 {
		panic("dispatch: chunk size must be positive")
	}
	return func(yield func(int, []T) bool) {
		for i, start := 0, 0; start < len(items); i, start = i+1, start+size {
			end := min(start+size, len(items))
			if !yield(i, items[start:end:end]) {
				return
			}
		}
	}
}

// ChunkCount returns ceil(n/size).
func ChunkCount(n, size int) int {
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
