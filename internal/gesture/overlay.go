package gesture

import (
	"image"
	"image/color"
	"image/draw"
	"strings"
)

// Connections are the landmark pairs joined when drawing a hand skeleton.
var Connections = [][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 4}, // thumb
	{0, 5}, {5, 6}, {6, 7}, {7, 8}, // index
	{0, 9}, {9, 10}, {10, 11}, {11, 12}, // middle
	{0, 13}, {13, 14}, {14, 15}, {15, 16}, // ring
	{0, 17}, {17, 18}, {18, 19}, {19, 20}, // pinky
	{5, 9}, {9, 13}, {13, 17}, // palm
}

var (
	rightColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	leftColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
)

const jointRadius = 5

// Segment is a line between two pixel positions.
type Segment struct {
	From, To image.Point
	Color    color.RGBA
}

// Joint is a filled dot at a landmark.
type Joint struct {
	At     image.Point
	Radius int
	Color  color.RGBA
}

// Overlay is everything drawn over the live camera preview.
type Overlay struct {
	Width, Height int
	Segments      []Segment
	Joints        []Joint
	Caption       string
	CaptionAt     image.Point
}

// BuildOverlay lays out the skeleton of every hand in f for a w x h preview,
// coloured by handedness, with the classified label as caption.
func BuildOverlay(f Frame, label Gesture, w, h int) Overlay {
	o := Overlay{Width: w, Height: h}
	for _, hand := range f.Hands {
		c := leftColor
		if strings.EqualFold(hand.Handedness, "right") {
			c = rightColor
		}
		for _, conn := range Connections {
			o.Segments = append(o.Segments, Segment{
				From:  toPixel(hand.Landmarks[conn[0]], w, h),
				To:    toPixel(hand.Landmarks[conn[1]], w, h),
				Color: c,
			})
		}
		for _, lm := range hand.Landmarks {
			o.Joints = append(o.Joints, Joint{At: toPixel(lm, w, h), Radius: jointRadius, Color: c})
		}
	}
	if label != None {
		o.Caption = "Detected: " + label.String()
		o.CaptionAt = image.Pt(w/2, 40)
	}
	return o
}

// Draw rasterises segments and joints onto dst. The caption is left to the
// host, which owns font rendering.
func (o Overlay) Draw(dst draw.Image) {
	for _, s := range o.Segments {
		line(dst, s.From, s.To, s.Color)
	}
	for _, j := range o.Joints {
		disc(dst, j.At, j.Radius, j.Color)
	}
}

func toPixel(l Landmark, w, h int) image.Point {
	return image.Pt(int(l.X*float64(w)), int(l.Y*float64(h)))
}

// line is Bresenham's algorithm.
func line(dst draw.Image, a, b image.Point, c color.Color) {
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
	bounds := dst.Bounds()
	for {
		if image.Pt(x, y).In(bounds) {
			dst.Set(x, y, c)
		}
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

func disc(dst draw.Image, center image.Point, r int, c color.Color) {
	bounds := dst.Bounds()
	for y := -r; y <= r; y++ {
		for x := -r; x <= r; x++ {
			if x*x+y*y > r*r {
				continue
			}
			p := image.Pt(center.X+x, center.Y+y)
			if p.In(bounds) {
				dst.Set(p.X, p.Y, c)
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
