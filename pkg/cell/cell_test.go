package cell

import "testing"

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		r     rune
		style StyleId
	}{
		{'a', 0},
		{' ', 0},
		{'字', 7},
		{0x10FFFF, 4294967}, // still fits in 31 usable bits of style id
	}

	for _, c := range cases {
		p := Pack(c.r, c.style)
		gotR, gotStyle := Unpack(p)
		if gotR != c.r {
			t.Errorf("Unpack(Pack(%q, %d)) rune = %q, want %q", c.r, c.style, gotR, c.r)
		}
		if gotStyle != c.style {
			t.Errorf("Unpack(Pack(%q, %d)) style = %d, want %d", c.r, c.style, gotStyle, c.style)
		}
	}
}

func TestBlankAndUnsetAreDistinct(t *testing.T) {
	if BLANK == UNSET {
		t.Fatal("BLANK and UNSET must be distinct payload values")
	}
	if !IsBlank(BLANK) {
		t.Error("IsBlank(BLANK) = false")
	}
	if !IsUnset(UNSET) {
		t.Error("IsUnset(UNSET) = false")
	}
	if IsBlank(UNSET) || IsUnset(BLANK) {
		t.Error("BLANK and UNSET must not be classified as each other")
	}
}

func TestContinuationCell(t *testing.T) {
	p := PackContinuation(3)
	if !IsContinuation(p) {
		t.Fatal("PackContinuation should set the continuation bit")
	}
	_, style := Unpack(p)
	if style != 3 {
		t.Errorf("continuation style = %d, want 3", style)
	}

	normal := Pack('x', 3)
	if IsContinuation(normal) {
		t.Error("a normal packed cell must not read as a continuation")
	}
}

func TestStyleTableInterningIsDeterministic(t *testing.T) {
	tbl := NewStyleTable()

	s1 := Style{Fg: RGB(255, 0, 0), Attrs: AttrBold}
	id1, created1 := tbl.Intern(s1)
	if !created1 {
		t.Fatal("first intern of a new style should report created=true")
	}
	if id1 == 0 {
		t.Error("id 0 is reserved for the default style")
	}

	id2, created2 := tbl.Intern(s1)
	if created2 {
		t.Error("re-interning an existing style should not allocate a new id")
	}
	if id1 != id2 {
		t.Errorf("interning the same style twice gave different ids: %d, %d", id1, id2)
	}

	got, ok := tbl.Lookup(id1)
	if !ok || got != s1 {
		t.Errorf("Lookup(%d) = %+v, %v, want %+v, true", id1, got, ok, s1)
	}
}

func TestStyleTableDefaultIdZero(t *testing.T) {
	tbl := NewStyleTable()
	got, ok := tbl.Lookup(0)
	if !ok || got != DefaultStyle {
		t.Errorf("Lookup(0) = %+v, %v, want default style", got, ok)
	}
}

func TestStyleTableUndefinedIdYieldsDefault(t *testing.T) {
	tbl := NewStyleTable()
	got, ok := tbl.Lookup(999)
	if ok {
		t.Error("Lookup of an undefined id should report ok=false")
	}
	if got != DefaultStyle {
		t.Errorf("Lookup of an undefined id = %+v, want default style", got)
	}
}

func TestStyleTableDefineForViewerSide(t *testing.T) {
	tbl := NewStyleTable()
	s := Style{Fg: Indexed(9), Attrs: AttrUnderline}
	tbl.Define(5, s)

	got, ok := tbl.Lookup(5)
	if !ok || got != s {
		t.Errorf("Lookup(5) after Define = %+v, %v, want %+v, true", got, ok, s)
	}
}
