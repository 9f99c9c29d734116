package catalogs

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"voxelpipe.dev/internal/sim/world/block"
)

func TestLoad_RepoAtlas(t *testing.T) {
	a, err := Load(filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if a.Texture != "atlas.png" || a.Size != [2]int{64, 16} {
		t.Fatalf("atlas = %s %v", a.Texture, a.Size)
	}
	if len(a.Palette) != 3 || a.Palette[0] != "Grass" || a.Palette[2] != "Placeholder" {
		t.Fatalf("palette = %v", a.Palette)
	}
	if len(a.Digest) != 64 {
		t.Fatalf("digest = %q", a.Digest)
	}

	grass := a.Mapping.MustLookup(block.Grass)
	if !grass.Top[0].ApproxEqual(mgl32.Vec2{0, 0}) || !grass.Side[0].ApproxEqual(mgl32.Vec2{0.25, 0}) || !grass.Bottom[2].ApproxEqual(mgl32.Vec2{0.75, 1}) {
		t.Fatalf("grass faces = %+v", grass)
	}
	stone := a.Mapping.MustLookup(block.Stone)
	if stone.Top != stone.Side || stone.Side != stone.Bottom {
		t.Fatalf("'all' did not apply to every face: %+v", stone)
	}
}

func TestParseAtlas_PartialFacesKeepZeroQuad(t *testing.T) {
	a, err := ParseAtlas([]byte(`{"texture":"t.png","size":[32,32],"blocks":{
		"Grass":{"top":[0,0,16,16]},
		"Stone":{"all":[16,0,16,16],"bottom":[0,16,16,16]},
		"Placeholder":{"side":[16,16,16,16]}}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	grass := a.Mapping.MustLookup(block.Grass)
	if grass.Side != (block.UVs{}) || grass.Bottom != (block.UVs{}) {
		t.Fatalf("unset faces not zero: %+v", grass)
	}
	stone := a.Mapping.MustLookup(block.Stone)
	if stone.Top == stone.Bottom {
		t.Fatalf("bottom override ignored")
	}
}

func TestParseAtlas_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"schema", `{"texture":"t.png","size":[16],"blocks":{}}`, "size"},
		{"unknown block", `{"texture":"t.png","size":[16,16],"blocks":{"Lava":{"all":[0,0,16,16]}}}`, "Lava"},
		{"coverage", `{"texture":"t.png","size":[16,16],"blocks":{"Grass":{"all":[0,0,16,16]}}}`, "missing"},
		{"out of atlas", `{"texture":"t.png","size":[16,16],"blocks":{"Grass":{"all":[8,0,16,16]}}}`, "outside"},
		{"air", `{"texture":"t.png","size":[16,16],"blocks":{"Air":{"all":[0,0,16,16]}}}`, "Air"},
		{"extra key", `{"texture":"t.png","size":[16,16],"blocks":{},"tint":1}`, "tint"},
	}
	for _, tc := range cases {
		_, err := ParseAtlas([]byte(tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err=%v, want mention of %q", tc.name, err, tc.want)
		}
	}
}
