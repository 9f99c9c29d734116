package main

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/tuning"
)

// orbit flies the focus around the origin on a circle. Position is a pure
// function of the tick so a resumed world continues where it stopped.
type orbit struct {
	path   tuning.FocusPath
	rateHz int
	tick   func() uint64
}

func newOrbit(path tuning.FocusPath, rateHz int, tick func() uint64) *orbit {
	if rateHz <= 0 {
		rateHz = 20
	}
	return &orbit{path: path, rateHz: rateHz, tick: tick}
}

func (o *orbit) Focus() mgl32.Vec3 { return o.at(o.tick()) }

func (o *orbit) at(tick uint64) mgl32.Vec3 {
	if o.path.Radius <= 0 {
		return mgl32.Vec3{0, float32(o.path.Height), 0}
	}
	dist := o.path.Speed * float64(tick) / float64(o.rateHz)
	angle := dist / o.path.Radius
	return mgl32.Vec3{
		float32(o.path.Radius * math.Cos(angle)),
		float32(o.path.Height),
		float32(o.path.Radius * math.Sin(angle)),
	}
}
