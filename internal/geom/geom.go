// Package geom provides the small amount of 3D math the streaming core
// needs: vectors, rotations, and rigid transforms for viewer poses.
package geom

import gomath "math"

// Vec3 is a 3D vector or point in grid-local coordinates.
type Vec3 [3]float32

// Add returns v + w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{v[0] + w[0], v[1] + w[1], v[2] + w[2]}
}

// Sub returns v - w.
func (v Vec3) Sub(w Vec3) Vec3 {
	return Vec3{v[0] - w[0], v[1] - w[1], v[2] - w[2]}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float32) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

// Dot returns the dot product of v and w.
func (v Vec3) Dot(w Vec3) float32 {
	return v[0]*w[0] + v[1]*w[1] + v[2]*w[2]
}

// Cross returns the cross product of v and w.
func (v Vec3) Cross(w Vec3) Vec3 {
	return Vec3{
		v[1]*w[2] - v[2]*w[1],
		v[2]*w[0] - v[0]*w[2],
		v[0]*w[1] - v[1]*w[0],
	}
}

// Length returns the Euclidean length of v.
func (v Vec3) Length() float32 {
	return sqrtf(v.Dot(v))
}

// Normalize returns a unit vector in the same direction as v.
func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length < 1e-6 {
		return Vec3{0, 0, 1}
	}
	return v.Scale(1 / length)
}

// Rotation is a unit quaternion (x, y, z, w).
type Rotation [4]float32

// IdentityRotation is the rotation that maps every vector to itself.
var IdentityRotation = Rotation{0, 0, 0, 1}

// RotateFromTo returns the shortest-arc rotation mapping direction from onto
// direction to. Both inputs are normalized internally. For anti-parallel
// inputs the rotation axis is an arbitrary perpendicular.
func RotateFromTo(from, to Vec3) Rotation {
	f := from.Normalize()
	t := to.Normalize()

	c := f.Dot(t)
	if c >= 1-1e-6 {
		return IdentityRotation
	}
	if c <= -1+1e-6 {
		// 180 degree turn: pick any axis perpendicular to f.
		axis := Vec3{1, 0, 0}.Cross(f)
		if axis.Length() < 1e-6 {
			axis = Vec3{0, 1, 0}.Cross(f)
		}
		axis = axis.Normalize()
		return Rotation{axis[0], axis[1], axis[2], 0}
	}

	axis := f.Cross(t)
	// Half-angle construction: s = sqrt(2*(1+c)) gives w = s/2, xyz = axis/s.
	s := sqrtf(2 * (1 + c))
	inv := 1 / s
	return Rotation{axis[0] * inv, axis[1] * inv, axis[2] * inv, s / 2}
}

// Apply rotates vector v by r.
func (r Rotation) Apply(v Vec3) Vec3 {
	// v' = v + 2*q x (q x v + w*v), with q the vector part of r.
	q := Vec3{r[0], r[1], r[2]}
	t := q.Cross(v).Add(v.Scale(r[3]))
	return v.Add(q.Cross(t).Scale(2))
}

// Transform is a rigid transform: rotation followed by translation.
type Transform struct {
	Translation Vec3
	Rot         Rotation
}

// Apply transforms point p.
func (t Transform) Apply(p Vec3) Vec3 {
	return t.Rot.Apply(p).Add(t.Translation)
}

func sqrtf(x float32) float32 {
	return float32(gomath.Sqrt(float64(x)))
}
