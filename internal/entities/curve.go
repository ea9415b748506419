package entities

// Curve is the interpolation the viewer applies between two committed values
// of a property.
type Curve int

const (
	Linear Curve = iota
	Immediate
	Ease
	EaseIn
	EaseOut
	Elastic
)

var curveNames = [...]string{"linear", "immediate", "ease", "ease_in", "ease_out", "elastic"}

func (c Curve) String() string {
	if c < 0 || int(c) >= len(curveNames) {
		return "linear"
	}
	return curveNames[c]
}

func curveOf(curves []Curve, def Curve) Curve {
	if len(curves) > 0 {
		return curves[0]
	}
	return def
}
