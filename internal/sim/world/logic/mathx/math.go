package mathx

import "math"

// Vec3i is an integer 3-vector used for chunk coordinates and block positions.
type Vec3i struct {
	X, Y, Z int
}

func (v Vec3i) Add(o Vec3i) Vec3i { return Vec3i{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }
func (v Vec3i) Sub(o Vec3i) Vec3i { return Vec3i{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Chebyshev returns the max-axis distance between v and o.
func (v Vec3i) Chebyshev(o Vec3i) int {
	d := v.Sub(o)
	return max(AbsInt(d.X), AbsInt(d.Y), AbsInt(d.Z))
}

// Less orders vectors by X, then Y, then Z.
func (v Vec3i) Less(o Vec3i) bool {
	if v.X != o.X {
		return v.X < o.X
	}
	if v.Y != o.Y {
		return v.Y < o.Y
	}
	return v.Z < o.Z
}

func (v Vec3i) Array() [3]int { return [3]int{v.X, v.Y, v.Z} }

func FromArray(a [3]int) Vec3i { return Vec3i{X: a[0], Y: a[1], Z: a[2]} }

// Split divides a world block position into its owning chunk and the local
// position inside that chunk. Negative positions round toward -inf.
func Split(pos Vec3i, size Vec3i) (chunk Vec3i, local Vec3i) {
	chunk = Vec3i{X: FloorDiv(pos.X, size.X), Y: FloorDiv(pos.Y, size.Y), Z: FloorDiv(pos.Z, size.Z)}
	local = Vec3i{X: Mod(pos.X, size.X), Y: Mod(pos.Y, size.Y), Z: Mod(pos.Z, size.Z)}
	return chunk, local
}

// FloorCell maps a continuous coordinate to the cell of the given edge length.
func FloorCell(v float32, size int) int {
	return int(math.Floor(float64(v) / float64(size)))
}

func FloorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func Mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func AbsInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
