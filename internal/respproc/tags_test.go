package respproc

import "testing"

func TestStripPrivateRemovesBlock(t *testing.T) {
	in := `before <private>secret stuff</private> after`
	got := stripPrivate(in)
	want := "before  after"
	if got != want {
		t.Errorf("stripPrivate = %q, want %q", got, want)
	}
}

func TestStripPrivateHandlesMultipleBlocks(t *testing.T) {
	in := `<private>one</private>keep<private>two</private>`
	got := stripPrivate(in)
	if got != "keep" {
		t.Errorf("stripPrivate = %q, want %q", got, "keep")
	}
}

func TestStripPrivateHandlesUnterminatedBlock(t *testing.T) {
	in := `keep this <private>dangling and never closed`
	got := stripPrivate(in)
	if got != "keep this " {
		t.Errorf("stripPrivate = %q, want %q", got, "keep this ")
	}
}

func TestFindTagsDoesNotMatchLongerTagNames(t *testing.T) {
	in := `<fact>real fact</fact><factory>not a fact</factory>`
	got := allTags(in, "fact")
	if len(got) != 1 || got[0] != "real fact" {
		t.Fatalf("expected only the real <fact> tag, got %+v", got)
	}
}

func TestFindTagsReturnsAttributes(t *testing.T) {
	in := `<observation type="bugfix">content</observation>`
	matches := findTags(in, "observation")
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	typ, ok := attrValue(matches[0].attrs, "type")
	if !ok || typ != "bugfix" {
		t.Fatalf("attrValue type = %q, ok=%v", typ, ok)
	}
	if matches[0].content != "content" {
		t.Errorf("content = %q", matches[0].content)
	}
}

func TestFindTagsSkipsUnclosedTags(t *testing.T) {
	in := `<fact>one</fact><fact>unterminated`
	got := allTags(in, "fact")
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("expected only the closed tag, got %+v", got)
	}
}

func TestFirstTagReturnsFalseWhenAbsent(t *testing.T) {
	if _, ok := firstTag("no tags here", "title"); ok {
		t.Errorf("expected ok=false for absent tag")
	}
}
