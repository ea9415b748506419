package entities

import (
	"strconv"
	"strings"
)

// Kind is the type tag sent with CREATE.
type Kind string

const (
	KindCircle    Kind = "CIRCLE"
	KindRectangle Kind = "RECTANGLE"
	KindLine      Kind = "LINE"
	KindText      Kind = "TEXT"
	KindSprite    Kind = "SPRITE"
	KindGroup     Kind = "GROUP"
)

// Entity is one displayed object. Setters record pending properties that a
// commit moves into a frame instant.
type Entity struct {
	id      int
	kind    Kind
	pending entityState
}

func (e *Entity) ID() int    { return e.id }
func (e *Entity) Kind() Kind { return e.kind }

// Set records a property. Supported values are strings, bools, ints and
// floats.
func (e *Entity) Set(key string, value any, curve Curve) *Entity {
	e.pending[key] = param{value: formatValue(value), curve: curve}
	return e
}

func (e *Entity) SetX(x float64, curve ...Curve) *Entity {
	return e.Set("x", x, curveOf(curve, Linear))
}

func (e *Entity) SetY(y float64, curve ...Curve) *Entity {
	return e.Set("y", y, curveOf(curve, Linear))
}

func (e *Entity) SetAlpha(a float64, curve ...Curve) *Entity {
	return e.Set("alpha", a, curveOf(curve, Linear))
}

func (e *Entity) SetScale(s float64, curve ...Curve) *Entity {
	return e.Set("scaleX", s, curveOf(curve, Linear)).Set("scaleY", s, curveOf(curve, Linear))
}

func (e *Entity) SetRotation(r float64, curve ...Curve) *Entity {
	return e.Set("rotation", r, curveOf(curve, Linear))
}

func (e *Entity) SetZIndex(z int) *Entity { return e.Set("zIndex", z, Immediate) }

func (e *Entity) SetVisible(v bool) *Entity { return e.Set("visible", v, Immediate) }

func (e *Entity) SetFillColor(rgb int, curve ...Curve) *Entity {
	return e.Set("fillColor", rgb, curveOf(curve, Linear))
}

func (e *Entity) SetRadius(r float64, curve ...Curve) *Entity {
	return e.Set("radius", r, curveOf(curve, Linear))
}

func (e *Entity) SetSize(w, h float64, curve ...Curve) *Entity {
	return e.Set("width", w, curveOf(curve, Linear)).Set("height", h, curveOf(curve, Linear))
}

func (e *Entity) SetText(s string) *Entity { return e.Set("text", s, Immediate) }

func (e *Entity) SetImage(name string) *Entity { return e.Set("image", name, Immediate) }

// Add puts children in a group.
func (e *Entity) Add(children ...*Entity) *Entity {
	ids := make([]string, len(children))
	for i, c := range children {
		ids[i] = strconv.Itoa(c.id)
	}
	return e.Set("children", strings.Join(ids, ","), Immediate)
}
