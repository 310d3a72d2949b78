package mapspec

import "testing"

func chunkOf(n int, category, title string) []ChecklistItem {
	items := make([]ChecklistItem, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, ChecklistItem{Title: title, Category: category})
	}
	return items
}

func TestBuildFallbackSpecDeterministicApartFromSeed(t *testing.T) {
	signals := DeriveSignals(chunkOf(4, "nutrition", "Eat more vegetables"))

	a := BuildFallbackSpec(signals, 4)
	b := BuildFallbackSpec(signals, 4)

	a.Meta.Seed = 0
	b.Meta.Seed = 0
	if a.ThemeID != b.ThemeID || a.Palette != b.Palette {
		t.Fatalf("theme/palette differ: %+v vs %+v", a, b)
	}
	if len(a.Nodes) != len(b.Nodes) || len(a.Path) != len(b.Path) {
		t.Fatalf("shape differs: %d/%d vs %d/%d", len(a.Nodes), len(a.Path), len(b.Nodes), len(b.Path))
	}
	for i := range a.Nodes {
		if a.Nodes[i] != b.Nodes[i] {
			t.Fatalf("node %d differs: %+v vs %+v", i, a.Nodes[i], b.Nodes[i])
		}
	}
}

func TestBuildFallbackSpecNodeCountMatchesChecklist(t *testing.T) {
	for _, count := range []int{2, 3, 5, 9, 12} {
		signals := DeriveSignals(chunkOf(count, "general", "Daily habit"))
		spec := BuildFallbackSpec(signals, count)
		if len(spec.Nodes) != count {
			t.Fatalf("count=%d: got %d nodes", count, len(spec.Nodes))
		}
		if len(spec.Path) != count {
			t.Fatalf("count=%d: got %d path points", count, len(spec.Path))
		}
		if spec.Meta.Source != SourceFallback {
			t.Fatalf("source = %q", spec.Meta.Source)
		}
		if spec.Character.X != spec.Path[0].X || spec.Character.Y != spec.Path[0].Y {
			t.Fatalf("character not at path start: %+v", spec.Character)
		}
	}
}

func TestBuildFallbackSpecClampsTinyChecklist(t *testing.T) {
	spec := BuildFallbackSpec(DeriveSignals(nil), 0)
	if len(spec.Nodes) != 2 || len(spec.Path) != 2 {
		t.Fatalf("nodes=%d path=%d, want 2/2", len(spec.Nodes), len(spec.Path))
	}
}

func TestBuildFallbackSpecAlwaysValidatesClean(t *testing.T) {
	themes := [][]ChecklistItem{
		chunkOf(4, "nutrition", "Eat vegetables and salad"),
		chunkOf(4, "medication", "Take morning pill dose"),
		chunkOf(4, "test", "Schedule blood lab appointment"),
		chunkOf(4, "general", "Keep a journal"),
	}

	for _, items := range themes {
		signals := DeriveSignals(items)
		spec := BuildFallbackSpec(signals, len(items))

		if !ValidThemeID(string(spec.ThemeID)) {
			t.Fatalf("invalid theme %q", spec.ThemeID)
		}
		for i, p := range spec.Path {
			if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
				t.Fatalf("path point %d out of range: %+v", i, p)
			}
		}
		if len(spec.Background.ParallaxLayers) == 0 {
			t.Fatal("no parallax layers")
		}
		for _, l := range spec.Background.ParallaxLayers {
			if l.Speed < 0.05 || l.Speed > 1.5 || l.Opacity < 0.1 || l.Opacity > 1 {
				t.Fatalf("parallax layer out of range: %+v", l)
			}
		}
	}
}

func TestPickThemeKeywordWeights(t *testing.T) {
	cases := []struct {
		name  string
		items []ChecklistItem
		want  ThemeID
	}{
		{
			name:  "vegetables and exercise pull jungle",
			items: chunkOf(3, "lifestyle", "Walk after a salad"),
			want:  ThemeJungleGarden,
		},
		{
			name:  "vitamins and tests pull city",
			items: chunkOf(3, "lifestyle", "Vitamin refill before the lab"),
			want:  ThemeCityVitamins,
		},
		{
			name:  "medication heavy pulls city",
			items: chunkOf(3, "lifestyle", "Evening medication"),
			want:  ThemeCityVitamins,
		},
		{
			name:  "nutrition dominant pulls jungle",
			items: chunkOf(2, "nutrition", "Meal plan"),
			want:  ThemeJungleGarden,
		},
		{
			name:  "no signal defaults to desert",
			items: chunkOf(2, "lifestyle", "Keep a journal"),
			want:  ThemeDesertPyramids,
		},
	}

	for _, tc := range cases {
		got := PickTheme(DeriveSignals(tc.items))
		if got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestBasePathForThemeReturnsCopy(t *testing.T) {
	a := BasePathForTheme(ThemeDesertPyramids)
	a[0].X = -1
	b := BasePathForTheme(ThemeDesertPyramids)
	if b[0].X == -1 {
		t.Fatal("base path mutated through returned slice")
	}
}
