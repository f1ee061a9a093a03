package tender

import "testing"

func TestParseSource(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want Source
		ok   bool
	}{
		{"anbud", SourceAnbud, true},
		{" Doffin ", SourceDoffin, true},
		{"TED", SourceTED, true},
		{"mercell", SourceMercell, true},
		{"ebay", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseSource(tt.raw)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("ParseSource(%q) = (%q, %v), want (%q, %v)", tt.raw, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFallbackIDDeterministic(t *testing.T) {
	t.Parallel()
	a := FallbackID(SourceDoffin, "Maling av  Skole")
	b := FallbackID(SourceDoffin, "maling av skole")
	if a != b {
		t.Fatalf("normalized titles should collide: %s != %s", a, b)
	}
	c := FallbackID(SourceAnbud, "maling av skole")
	if a == c {
		t.Fatalf("different sources must not collide")
	}
	if d := FallbackID(SourceDoffin, "maling av tak"); d == a {
		t.Fatalf("different titles must not collide")
	}
}

func TestNormalizeTitle(t *testing.T) {
	t.Parallel()
	if got := NormalizeTitle("  Ny   Barnehage\tOslo "); got != "ny barnehage oslo" {
		t.Fatalf("NormalizeTitle = %q", got)
	}
}
