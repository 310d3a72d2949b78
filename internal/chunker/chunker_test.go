package chunker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/carequest/questmap-backend/internal/mapspec"
)

func makeItems(n int) []mapspec.ChecklistItem {
	items := make([]mapspec.ChecklistItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, mapspec.ChecklistItem{Title: fmt.Sprintf("item %d", i)})
	}
	return items
}

func TestChunkCoversEveryItemInOrder(t *testing.T) {
	for n := 1; n <= 40; n++ {
		items := makeItems(n)
		chunks := Chunk(items, RandomSizePicker(rand.New(rand.NewSource(int64(n)))))

		total := 0
		for _, c := range chunks {
			if len(c) == 0 {
				t.Fatalf("n=%d: empty chunk", n)
			}
			for _, item := range c {
				if item.Title != items[total].Title {
					t.Fatalf("n=%d: item %d out of order", n, total)
				}
				total++
			}
		}
		if total != n {
			t.Fatalf("n=%d: covered %d items", n, total)
		}
	}
}

func TestChunkSizesStayInRange(t *testing.T) {
	items := makeItems(100)
	chunks := Chunk(items, RandomSizePicker(rand.New(rand.NewSource(7))))
	for i, c := range chunks {
		// Only the final chunk may be a short remainder.
		if i < len(chunks)-1 && (len(c) < MinChunkSize || len(c) > MaxChunkSize) {
			t.Fatalf("chunk %d has size %d", i, len(c))
		}
	}
}

func TestChunkSeededPickerIsReproducible(t *testing.T) {
	items := makeItems(25)
	a := Chunk(items, RandomSizePicker(rand.New(rand.NewSource(42))))
	b := Chunk(items, RandomSizePicker(rand.New(rand.NewSource(42))))
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			t.Fatalf("chunk %d sizes differ: %d vs %d", i, len(a[i]), len(b[i]))
		}
	}
}

func TestChunkEmptyInput(t *testing.T) {
	if got := Chunk(nil, FixedSizePicker(4)); got != nil {
		t.Fatalf("expected nil, got %d chunks", len(got))
	}
}

func TestChunkClampsOversizedPick(t *testing.T) {
	chunks := Chunk(makeItems(2), FixedSizePicker(6))
	if len(chunks) != 1 || len(chunks[0]) != 2 {
		t.Fatalf("unexpected chunking: %v", chunkSizes(chunks))
	}
}

func TestBounds(t *testing.T) {
	chunks := Chunk(makeItems(10), FixedSizePicker(4))
	// 4 + 4 + 2
	cases := []struct{ idx, start, end int }{
		{0, 0, 4},
		{1, 4, 8},
		{2, 8, 10},
	}
	for _, tc := range cases {
		start, end := Bounds(chunks, tc.idx)
		if start != tc.start || end != tc.end {
			t.Fatalf("chunk %d: got [%d,%d), want [%d,%d)", tc.idx, start, end, tc.start, tc.end)
		}
	}
}

func chunkSizes(chunks [][]mapspec.ChecklistItem) []int {
	sizes := make([]int, 0, len(chunks))
	for _, c := range chunks {
		sizes = append(sizes, len(c))
	}
	return sizes
}
