package geom

import (
	"fmt"
	"math"
)

// Vec3 is a point or offset in the viewer's space.
// Screen-space stimuli use X/Y as pixel offsets from the centre and leave Z at 0.
type Vec3 struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
	Z float64 `yaml:"z"`
}

func V(x, y, z float64) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Lerp performs linear interpolation between v and o
func (v Vec3) Lerp(o Vec3, t float64) Vec3 {
	return Vec3{
		X: v.X + (o.X-v.X)*t,
		Y: v.Y + (o.Y-v.Y)*t,
		Z: v.Z + (o.Z-v.Z)*t,
	}
}

// String formats the vector the way marker texts print locations.
func (v Vec3) String() string {
	return fmt.Sprintf("(%.2f, %.2f, %.2f)", v.X, v.Y, v.Z)
}

// MarshalYAML writes the vector as a [x, y, z] sequence.
func (v Vec3) MarshalYAML() (interface{}, error) {
	return []float64{v.X, v.Y, v.Z}, nil
}

// UnmarshalYAML accepts both [x, y] / [x, y, z] sequences and {x, y, z} maps.
func (v *Vec3) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var seq []float64
	if err := unmarshal(&seq); err == nil {
		switch len(seq) {
		case 2:
			*v = Vec3{X: seq[0], Y: seq[1]}
		case 3:
			*v = Vec3{X: seq[0], Y: seq[1], Z: seq[2]}
		default:
			return fmt.Errorf("vector needs 2 or 3 components, got %d", len(seq))
		}
		return nil
	}

	type plain Vec3
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*v = Vec3(p)
	return nil
}

// Quat is a unit rotation quaternion.
type Quat struct {
	W, X, Y, Z float64
}

// Identity returns the no-op rotation.
func Identity() Quat {
	return Quat{W: 1}
}

// Euler builds a rotation from yaw (around Y), pitch (around X) and roll (around Z), in degrees.
// Rotation order is yaw, then pitch, then roll, matching a head-mounted display.
func Euler(yaw, pitch, roll float64) Quat {
	y := axisAngle(Vec3{Y: 1}, yaw)
	p := axisAngle(Vec3{X: 1}, pitch)
	r := axisAngle(Vec3{Z: 1}, roll)
	return y.Mul(p).Mul(r)
}

func axisAngle(axis Vec3, deg float64) Quat {
	half := deg * math.Pi / 360
	s := math.Sin(half)
	return Quat{W: math.Cos(half), X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s}
}

// Mul composes q then o (q * o).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

func (q Quat) normalize() Quat {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 {
		return Identity()
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	// v' = v + 2w(u x v) + 2(u x (u x v))
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := cross(u, v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(cross(u, t))
}

// Slerp interpolates between two rotations along the shortest arc.
func (q Quat) Slerp(o Quat, t float64) Quat {
	dot := q.W*o.W + q.X*o.X + q.Y*o.Y + q.Z*o.Z
	if dot < 0 {
		o = Quat{W: -o.W, X: -o.X, Y: -o.Y, Z: -o.Z}
		dot = -dot
	}
	if dot > 0.9995 {
		return Quat{
			W: q.W + (o.W-q.W)*t,
			X: q.X + (o.X-q.X)*t,
			Y: q.Y + (o.Y-q.Y)*t,
			Z: q.Z + (o.Z-q.Z)*t,
		}.normalize()
	}
	theta := math.Acos(dot)
	sin := math.Sin(theta)
	a := math.Sin((1-t)*theta) / sin
	b := math.Sin(t*theta) / sin
	return Quat{
		W: q.W*a + o.W*b,
		X: q.X*a + o.X*b,
		Y: q.Y*a + o.Y*b,
		Z: q.Z*a + o.Z*b,
	}
}

func cross(a, b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// Pose is the viewer's reference frame: where the head is and where it looks.
type Pose struct {
	Position Vec3
	Rotation Quat
}

// Anchor maps an offset expressed in the viewer's frame to a world position.
func (p Pose) Anchor(offset Vec3) Vec3 {
	return p.Position.Add(p.Rotation.Rotate(offset))
}

// Forward is the viewing direction (+Z in the viewer's frame).
func (p Pose) Forward() Vec3 {
	return p.Rotation.Rotate(Vec3{Z: 1})
}

// Local maps a world position into the viewer's frame; it inverts Anchor.
func (p Pose) Local(world Vec3) Vec3 {
	inv := Quat{W: p.Rotation.W, X: -p.Rotation.X, Y: -p.Rotation.Y, Z: -p.Rotation.Z}
	return inv.Rotate(world.Sub(p.Position))
}
