// Package overlay draws on-screen graphics over output pictures: the
// source timestamp, a station logo, and pause/play indicators.
package overlay

import (
	"image"
	"time"
)

// Overlay draws onto an output picture. pos is the source position of
// the picture.
type Overlay interface {
	Apply(dst *image.RGBA, pos time.Duration)
}

// Position anchors an overlay to a corner of the picture.
type Position int

const (
	TopLeft Position = iota
	TopRight
	BottomLeft
	BottomRight
)

// ParsePosition maps a name like "top-left" to a Position. Unknown names
// map to TopRight.
func ParsePosition(s string) Position {
	switch s {
	case "top-left", "tl":
		return TopLeft
	case "bottom-left", "bl":
		return BottomLeft
	case "bottom-right", "br":
		return BottomRight
	default:
		return TopRight
	}
}

// anchor returns the origin for a w×h graphic placed at p inside bounds,
// inset by margin.
func anchor(p Position, bounds image.Rectangle, w, h, margin int) image.Point {
	x := bounds.Min.X + margin
	y := bounds.Min.Y + margin
	if p == TopRight || p == BottomRight {
		x = bounds.Max.X - margin - w
	}
	if p == BottomLeft || p == BottomRight {
		y = bounds.Max.Y - margin - h
	}
	return image.Pt(x, y)
}

// Chain applies overlays in order.
type Chain []Overlay

func (c Chain) Apply(dst *image.RGBA, pos time.Duration) {
	for _, o := range c {
		if o != nil {
			o.Apply(dst, pos)
		}
	}
}
