package privacy

import "testing"

func TestStripPrivateTags(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"no markers here", "no markers here"},
		{"keep <private>secret</private> this", "keep  this"},
		{"<private>a</private>middle<private>b</private>", "middle"},
		{"<private>spans\nlines</private>tail", "tail"},
		{"<private>unclosed stays", "<private>unclosed stays"},
	}
	for _, tc := range cases {
		if got := StripPrivateTags(tc.in); got != tc.want {
			t.Errorf("StripPrivateTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestHasOnlyPrivateContent(t *testing.T) {
	if !HasOnlyPrivateContent("<private>all hidden</private>") {
		t.Error("fully private content not detected")
	}
	if !HasOnlyPrivateContent("  <private>a</private>\n<private>b</private>  ") {
		t.Error("whitespace-padded private content not detected")
	}
	if HasOnlyPrivateContent("visible <private>hidden</private>") {
		t.Error("mixed content flagged as private")
	}
}
