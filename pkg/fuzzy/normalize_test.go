package fuzzy

import "testing"

func TestNormalizeTitle(t *testing.T) {
	n := NewNormalizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase and trim", "  Song Title  ", "song title"},
		{"strip feat", "Song Title (feat. Someone)", "song title"},
		{"strip ft", "Song Title ft. Someone", "song title"},
		{"strip remaster suffix", "Song Title - 2011 Remaster", "song title"},
		{"strip radio edit", "Song Title (Radio Edit)", "song title"},
		{"strip punctuation", "Song: Title!", "song title"},
		{"fold diacritics", "Café Müller", "cafe muller"},
		{"collapse whitespace", "Song   Title", "song title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.NormalizeTitle(tt.input); got != tt.want {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeTitle_VariantsCollapse(t *testing.T) {
	n := NewNormalizer()

	variants := []string{
		"My Song",
		"My Song (feat. Guest Artist)",
		"My Song - Remastered 2009",
		"my song",
	}

	want := n.NormalizeTitle(variants[0])
	for _, v := range variants[1:] {
		if got := n.NormalizeTitle(v); got != want {
			t.Errorf("Variant %q normalized to %q, want %q", v, got, want)
		}
	}
}
