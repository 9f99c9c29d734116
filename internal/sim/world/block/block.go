package block

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Type is a block kind. The zero value is Air.
type Type uint8

const (
	Air Type = iota
	Grass
	Stone
	Placeholder

	numTypes
)

type props struct {
	name        string
	transparent bool
}

var table = [numTypes]props{
	Air:         {name: "Air", transparent: true},
	Grass:       {name: "Grass"},
	Stone:       {name: "Stone"},
	Placeholder: {name: "Placeholder"},
}

var byName = func() map[string]Type {
	m := make(map[string]Type, numTypes)
	for i := Type(0); i < numTypes; i++ {
		m[table[i].name] = i
	}
	return m
}()

// All returns every known block type in declaration order.
func All() []Type {
	out := make([]Type, 0, numTypes)
	for i := Type(0); i < numTypes; i++ {
		out = append(out, i)
	}
	return out
}

func (t Type) Valid() bool { return t < numTypes }

// IsTransparent reports whether faces next to this block are visible.
func (t Type) IsTransparent() bool {
	if !t.Valid() {
		return false
	}
	return table[t].transparent
}

func (t Type) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return table[t].name
}

// Parse resolves a canonical block name such as "Grass".
func Parse(name string) (Type, error) {
	t, ok := byName[name]
	if !ok {
		return Air, fmt.Errorf("unknown block type %q", name)
	}
	return t, nil
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UVs holds one atlas rectangle: top-left, top-right, bottom-right, bottom-left.
type UVs [4]mgl32.Vec2

// Faces are the per-face atlas rectangles of one block type.
type Faces struct {
	Top    UVs
	Side   UVs
	Bottom UVs
}

// UvMapping maps block types to atlas rectangles. It is immutable after
// NewUvMapping returns and may be shared by any number of goroutines.
type UvMapping struct {
	faces map[Type]Faces
}

func NewUvMapping(m map[Type]Faces) *UvMapping {
	cp := make(map[Type]Faces, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return &UvMapping{faces: cp}
}

func (u *UvMapping) Lookup(t Type) (Faces, bool) {
	f, ok := u.faces[t]
	return f, ok
}

// MustLookup panics when t has no mapping; the atlas loader guarantees
// coverage for every reachable type before meshing starts.
func (u *UvMapping) MustLookup(t Type) Faces {
	f, ok := u.faces[t]
	if !ok {
		panic(fmt.Sprintf("block: no uv mapping for %s", t))
	}
	return f
}

// Missing lists the opaque types that have no mapping.
func (u *UvMapping) Missing() []Type {
	var out []Type
	for _, t := range All() {
		if t == Air {
			continue
		}
		if _, ok := u.faces[t]; !ok {
			out = append(out, t)
		}
	}
	return out
}

func (u *UvMapping) Len() int { return len(u.faces) }

// RectUVs converts a pixel rectangle inside an atlas of the given size into
// normalized corner coordinates.
func RectUVs(x, y, w, h, atlasW, atlasH int) UVs {
	aw, ah := float32(atlasW), float32(atlasH)
	minX, minY := float32(x)/aw, float32(y)/ah
	maxX, maxY := float32(x+w)/aw, float32(y+h)/ah
	return UVs{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
	}
}
