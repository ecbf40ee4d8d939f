// Package fbconsole is the graphical console: a second, visual head onto
// the same line-buffered character stream internal/console renders to the
// PL011, this time rasterized onto a virtio-gpu/Bochs-style BGRX
// framebuffer using gg for the draw context and freetype + x/image/font
// for glyph rendering, grounded on framebuffer_text.go/gg_circle_qemu.go's
// scroll-by-row and RGBA/BGRX byte-swap conventions. Domain tier in the
// layering table — it calls into internal/console for shared keyboard
// input and internal/file to register itself under FBConsole, but nothing
// below it depends on it.
package fbconsole

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"

	"github.com/yzlqp/OS/internal/console"
	"github.com/yzlqp/OS/internal/file"
	"github.com/yzlqp/OS/internal/spinlock"
)

// Surface is the raw scanout buffer a graphics driver (internal/ramfb,
// in this kernel's case) exposes: BGRX8888, Pitch bytes per row,
// Pixels sized at least Pitch*Height.
type Surface interface {
	Width() int
	Height() int
	Pitch() int
	Pixels() []byte
}

// Cell geometry in pixels. 8x16 matches the teacher's RenderChar16x16
// footprint, sized for freetype's rasterized glyphs rather than the
// teacher's hand-rolled bitmap font.
const (
	charWidth  = 8
	charHeight = 16
	fontPoints = 12
)

var (
	foreground = color.RGBA{R: 0x00, G: 0xFF, B: 0x41, A: 0xFF} // AnsiBrightGreen
	background = color.RGBA{R: 0x19, G: 0x1B, B: 0x70, A: 0xFF} // MidnightBlue
)

type head struct {
	lock *spinlock.Mutex

	surf Surface
	ctx  *gg.Context
	face *truetype.Font

	cols, rows   int
	cursorX      int
	cursorY      int
	scrollOffset int
}

var c head

// Init parses the embedded TTF, sizes a gg drawing context to surf's
// dimensions, and registers this package's Read/Write under
// file.FBConsole. Read is console's own — the graphical head shares the
// one keyboard input stream with the serial console rather than owning a
// second ring buffer.
func Init(surf Surface) error {
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return err
	}

	c.lock = spinlock.New("fbconsole")
	c.surf = surf
	c.face = f
	c.ctx = gg.NewContext(surf.Width(), surf.Height())
	c.cols = surf.Width() / charWidth
	c.rows = surf.Height() / charHeight
	c.cursorX, c.cursorY = 0, 0
	c.scrollOffset = 0

	c.ctx.SetColor(background)
	c.ctx.Clear()
	flush(c.surf, c.ctx.Image().(*image.RGBA))

	file.RegisterDevice(file.FBConsole, file.Device{Read: console.Read, Write: Write})
	return nil
}

// Write renders each byte of src onto the framebuffer in turn, the
// graphical analogue of console.Write.
func Write(src []byte) (int32, error) {
	c.lock.Acquire()
	defer c.lock.Release()
	for _, b := range src {
		putc(b)
	}
	flush(c.surf, c.ctx.Image().(*image.RGBA))
	return int32(len(src)), nil
}

// putc draws one glyph at the cursor and advances it, scrolling the
// screen up one row when the cursor runs off the bottom — the same
// control flow as AdvanceCursor/HandleNewline/ScrollScreenUp, rewritten
// against a freetype glyph instead of a fixed bitmap.
func putc(ch byte) {
	if ch == '\n' {
		newline()
		return
	}
	if ch < 0x20 || ch >= 0x7f {
		return
	}

	drawGlyph(ch, c.cursorX*charWidth, c.cursorY*charHeight)
	c.cursorX++
	if c.cursorX >= c.cols {
		newline()
	}
}

func newline() {
	c.cursorX = 0
	c.cursorY++
	if c.cursorY >= c.rows {
		scrollUp()
		c.cursorY = c.rows - 1
	}
}

// drawGlyph rasterizes ch via freetype directly onto the gg context's
// backing RGBA image, clearing the cell to the background color first so
// overwritten glyphs don't bleed through.
func drawGlyph(ch byte, px, py int) {
	c.ctx.SetColor(background)
	c.ctx.DrawRectangle(float64(px), float64(py), charWidth, charHeight)
	c.ctx.Fill()

	ft := freetype.NewContext()
	ft.SetDPI(72)
	ft.SetFont(c.face)
	ft.SetFontSize(fontPoints)
	ft.SetClip(c.ctx.Image().Bounds())
	ft.SetDst(c.ctx.Image().(*image.RGBA))
	ft.SetSrc(image.NewUniform(foreground))

	pt := fixed.Point26_6{
		X: fixed.I(px),
		Y: fixed.I(py + charHeight - 4),
	}
	ft.DrawString(string(ch), pt)
}

// scrollUp copies every text row up by one cell row and clears the last
// row, mirroring ScrollScreenUp's full-row memmove-then-clear shape.
func scrollUp() {
	im := c.ctx.Image().(*image.RGBA)
	rowBytes := charHeight * im.Stride
	copy(im.Pix, im.Pix[rowBytes:])

	c.ctx.SetColor(background)
	c.ctx.DrawRectangle(0, float64((c.rows-1)*charHeight), float64(c.surf.Width()), charHeight)
	c.ctx.Fill()

	c.scrollOffset += charHeight
}

// flush copies the gg RGBA backbuffer into the BGRX scanout surface,
// byte-swapping channel order the same way flushGGToFramebuffer does.
func flush(surf Surface, im *image.RGBA) {
	width, height, pitch := surf.Width(), surf.Height(), surf.Pitch()
	if width > im.Bounds().Dx() {
		width = im.Bounds().Dx()
	}
	if height > im.Bounds().Dy() {
		height = im.Bounds().Dy()
	}
	if width <= 0 || height <= 0 || pitch <= 0 {
		return
	}

	dst := surf.Pixels()
	for y := 0; y < height; y++ {
		srcRow := im.Pix[y*im.Stride:]
		dstRow := dst[y*pitch:]
		for x := 0; x < width; x++ {
			si, di := x*4, x*4
			r, g, b := srcRow[si+0], srcRow[si+1], srcRow[si+2]
			dstRow[di+0] = b
			dstRow[di+1] = g
			dstRow[di+2] = r
			dstRow[di+3] = 0
		}
	}
}
