// Package overlay renders the display frame: perimeter polygon,
// detection boxes with class-colored outlines and labels, and a status
// line. Purely cosmetic; the detection loop publishes the result but
// never reads it back.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/vigilcam/ids-server/internal/geometry"
	"github.com/vigilcam/ids-server/pkg/types"
)

// Options selects which decorations are drawn.
type Options struct {
	DrawBoxes      bool
	DrawConfidence bool
}

var (
	colorPerimeter = color.RGBA{G: 255, A: 255}
	colorAlert     = color.RGBA{R: 255, A: 255}
	colorOK        = color.RGBA{G: 200, A: 255}
	colorPerson    = color.RGBA{R: 255, A: 255}
	colorAnimal    = color.RGBA{R: 255, G: 165, A: 255}
	colorObject    = color.RGBA{R: 255, G: 255, A: 255}
	colorLabelText = color.RGBA{A: 255}
)

var animalClasses = map[string]struct{}{
	"dog":  {},
	"cat":  {},
	"bird": {},
}

func classColor(class string) color.RGBA {
	if class == "person" {
		return colorPerson
	}
	if _, ok := animalClasses[class]; ok {
		return colorAnimal
	}
	return colorObject
}

// Render decodes the frame, draws the configured decorations, and
// re-encodes it as JPEG. The input frame is not modified.
func Render(frame *types.Frame, detections []types.Detection, perim *geometry.Perimeter, stats types.Stats, opts Options) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame.Data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	if pts := perim.Points(); len(pts) >= 3 {
		for i := range pts {
			drawLine(canvas, pts[i], pts[(i+1)%len(pts)], colorPerimeter, 2)
		}
	}

	if opts.DrawBoxes {
		for _, d := range detections {
			c := classColor(d.ClassName)
			drawRect(canvas, image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3]), c, 2)

			label := d.ClassName
			if opts.DrawConfidence {
				label = fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
			}
			drawLabel(canvas, d.Box[0], d.Box[1]-4, label, c)
		}
	}

	status := "STATUS: Monitoring"
	statusColor := colorOK
	if stats.InPerimeter > 0 {
		status = fmt.Sprintf("INTRUSION: %d object(s)", stats.InPerimeter)
		statusColor = colorAlert
	}
	drawLabel(canvas, 10, 20, status, statusColor)
	drawLabel(canvas, 10, 40, fmt.Sprintf("FPS: %.1f", stats.FPS), colorOK)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode display frame: %w", err)
	}
	return buf.Bytes(), nil
}

// drawLine draws an integer Bresenham line with the given thickness.
func drawLine(img *image.RGBA, a, b image.Point, c color.RGBA, thickness int) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy

	x, y := a.X, a.Y
	for {
		setThick(img, x, y, c, thickness)
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

func drawRect(img *image.RGBA, r image.Rectangle, c color.RGBA, thickness int) {
	drawLine(img, r.Min, image.Point{X: r.Max.X, Y: r.Min.Y}, c, thickness)
	drawLine(img, image.Point{X: r.Max.X, Y: r.Min.Y}, r.Max, c, thickness)
	drawLine(img, r.Max, image.Point{X: r.Min.X, Y: r.Max.Y}, c, thickness)
	drawLine(img, image.Point{X: r.Min.X, Y: r.Max.Y}, r.Min, c, thickness)
}

// drawLabel draws text on a filled background anchored at the text
// baseline. Labels pushed above the frame are shifted inside it.
func drawLabel(img *image.RGBA, x, y int, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	height := face.Metrics().Height.Ceil()

	if y-height < img.Bounds().Min.Y {
		y = img.Bounds().Min.Y + height
	}

	box := image.Rect(x-1, y-height+2, x+width+1, y+3).Intersect(img.Bounds())
	draw.Draw(img, box, &image.Uniform{C: bg}, image.Point{}, draw.Src)

	drawer := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: colorLabelText},
		Face: face,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}

func setThick(img *image.RGBA, x, y int, c color.RGBA, thickness int) {
	r := thickness / 2
	for oy := -r; oy <= r; oy++ {
		for ox := -r; ox <= r; ox++ {
			if (image.Point{X: x + ox, Y: y + oy}).In(img.Bounds()) {
				img.SetRGBA(x+ox, y+oy, c)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
