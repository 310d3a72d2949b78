// Package chunker splits a consultation checklist into the ordered slices
// that each become one journey map.
package chunker

import (
	"math/rand"

	"github.com/carequest/questmap-backend/internal/mapspec"
)

const (
	MinChunkSize = 3
	MaxChunkSize = 6
)

// SizePicker returns the next chunk size given how many items remain. The
// returned size is clamped into [1, remaining] by Chunk, so pickers only
// need to express intent.
type SizePicker func(remaining int) int

// RandomSizePicker draws sizes uniformly from [MinChunkSize, MaxChunkSize].
// Pass a seeded rand for reproducible chunking in tests.
func RandomSizePicker(rng *rand.Rand) SizePicker {
	return func(remaining int) int {
		return MinChunkSize + rng.Intn(MaxChunkSize-MinChunkSize+1)
	}
}

// FixedSizePicker always asks for the same size.
func FixedSizePicker(size int) SizePicker {
	return func(remaining int) int { return size }
}

// Chunk partitions items in order. Every item lands in exactly one chunk and
// concatenating the chunks reproduces the input. A trailing remainder smaller
// than the picked size becomes its own chunk rather than being dropped.
func Chunk(items []mapspec.ChecklistItem, pick SizePicker) [][]mapspec.ChecklistItem {
	if len(items) == 0 {
		return nil
	}

	chunks := make([][]mapspec.ChecklistItem, 0, (len(items)+MinChunkSize-1)/MinChunkSize)
	for start := 0; start < len(items); {
		remaining := len(items) - start
		size := pick(remaining)
		if size < 1 {
			size = 1
		}
		if size > remaining {
			size = remaining
		}
		chunks = append(chunks, items[start:start+size])
		start += size
	}
	return chunks
}

// Bounds returns the half-open item index range [start, end) covered by the
// chunk at chunkIndex, matching how Chunk walked the input.
func Bounds(chunks [][]mapspec.ChecklistItem, chunkIndex int) (start, end int) {
	for i := 0; i < chunkIndex && i < len(chunks); i++ {
		start += len(chunks[i])
	}
	if chunkIndex < len(chunks) {
		end = start + len(chunks[chunkIndex])
	} else {
		end = start
	}
	return start, end
}
