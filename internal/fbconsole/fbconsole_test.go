package fbconsole

import "testing"

type fakeSurface struct {
	w, h, pitch int
	pix         []byte
}

func newFakeSurface(w, h int) *fakeSurface {
	pitch := w * 4
	return &fakeSurface{w: w, h: h, pitch: pitch, pix: make([]byte, pitch*h)}
}

func (f *fakeSurface) Width() int    { return f.w }
func (f *fakeSurface) Height() int   { return f.h }
func (f *fakeSurface) Pitch() int    { return f.pitch }
func (f *fakeSurface) Pixels() []byte { return f.pix }

func TestInitClearsSurfaceToBackgroundColor(t *testing.T) {
	surf := newFakeSurface(64, 32)
	if err := Init(surf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	// BGRX for MidnightBlue (R=0x19,G=0x1B,B=0x70) at pixel (0,0).
	if surf.pix[0] != background.B || surf.pix[1] != background.G || surf.pix[2] != background.R {
		t.Fatalf("Init() left pixel(0,0) = %v, want background %v", surf.pix[0:3], background)
	}
}

func TestWriteAdvancesCursorAndWrapsAtColumnWidth(t *testing.T) {
	surf := newFakeSurface(charWidth*4, charHeight*4)
	if err := Init(surf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	n, err := Write([]byte("abcde"))
	if err != nil || n != 5 {
		t.Fatalf("Write() = (%d, %v), want (5, nil)", n, err)
	}
	if c.cursorY != 1 || c.cursorX != 1 {
		t.Fatalf("cursor = (%d,%d), want wrap onto row 1 col 1 after 5 chars on a 4-col surface", c.cursorX, c.cursorY)
	}
}

func TestWriteNewlineResetsColumnAndAdvancesRow(t *testing.T) {
	surf := newFakeSurface(charWidth*8, charHeight*4)
	if err := Init(surf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := Write([]byte("hi\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if c.cursorX != 0 || c.cursorY != 1 {
		t.Fatalf("cursor = (%d,%d), want (0,1) after a newline", c.cursorX, c.cursorY)
	}
}

func TestWriteScrollsWhenCursorRunsPastLastRow(t *testing.T) {
	surf := newFakeSurface(charWidth*4, charHeight*2)
	if err := Init(surf); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if _, err := Write([]byte("a\nb\nc\n")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if c.cursorY != c.rows-1 {
		t.Fatalf("cursorY = %d, want pinned at last row %d after scrolling", c.cursorY, c.rows-1)
	}
	if c.scrollOffset == 0 {
		t.Fatal("scrollOffset should be nonzero once the text has scrolled")
	}
}
