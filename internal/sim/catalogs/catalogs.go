package catalogs

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelpipe.dev/internal/sim/world/block"
)

//go:embed atlas.schema.json
var atlasSchemaJSON string

var atlasSchema = jsonschema.MustCompileString("atlas.schema.json", atlasSchemaJSON)

// Atlas is a loaded texture atlas catalog.
type Atlas struct {
	Texture string
	Size    [2]int
	Mapping *block.UvMapping

	// Palette lists the mapped block names in block.Type order.
	Palette []string
	Digest  string
}

type atlasFile struct {
	Texture string               `json:"texture"`
	Size    [2]int               `json:"size"`
	Blocks  map[string]facesFile `json:"blocks"`
}

type facesFile struct {
	All    *[4]int `json:"all,omitempty"`
	Top    *[4]int `json:"top,omitempty"`
	Side   *[4]int `json:"side,omitempty"`
	Bottom *[4]int `json:"bottom,omitempty"`
}

// Load reads <configDir>/atlas.json.
func Load(configDir string) (*Atlas, error) {
	return LoadAtlas(filepath.Join(configDir, "atlas.json"))
}

func LoadAtlas(path string) (*Atlas, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	a, err := ParseAtlas(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return a, nil
}

// ParseAtlas validates raw against the atlas schema and builds the UV
// mapping. Every non-Air block type must be present.
func ParseAtlas(raw []byte) (*Atlas, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := atlasSchema.Validate(doc); err != nil {
		return nil, err
	}

	var f atlasFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	w, h := f.Size[0], f.Size[1]
	faces := make(map[block.Type]block.Faces, len(f.Blocks))
	for name, ff := range f.Blocks {
		t, err := block.Parse(name)
		if err != nil {
			return nil, err
		}
		if t == block.Air {
			return nil, fmt.Errorf("block Air cannot be textured")
		}
		fc, err := ff.resolve(w, h)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		faces[t] = fc
	}

	m := block.NewUvMapping(faces)
	if missing := m.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("missing block types %v", missing)
	}

	palette := make([]string, 0, len(faces))
	for _, t := range block.All() {
		if _, ok := faces[t]; ok {
			palette = append(palette, t.String())
		}
	}

	return &Atlas{
		Texture: f.Texture,
		Size:    f.Size,
		Mapping: m,
		Palette: palette,
		Digest:  sha256Hex(raw),
	}, nil
}

// resolve applies "all" first, then per-face overrides. Faces left unset
// keep the zero quad.
func (ff facesFile) resolve(w, h int) (block.Faces, error) {
	var out block.Faces
	set := func(dst *block.UVs, r *[4]int) error {
		if r == nil {
			return nil
		}
		x, y, rw, rh := r[0], r[1], r[2], r[3]
		if rw == 0 || rh == 0 || x+rw > w || y+rh > h {
			return fmt.Errorf("rect %v outside %dx%d atlas", *r, w, h)
		}
		*dst = block.RectUVs(x, y, rw, rh, w, h)
		return nil
	}
	if err := set(&out.Top, ff.All); err != nil {
		return out, err
	}
	out.Side, out.Bottom = out.Top, out.Top
	if err := set(&out.Top, ff.Top); err != nil {
		return out, err
	}
	if err := set(&out.Side, ff.Side); err != nil {
		return out, err
	}
	if err := set(&out.Bottom, ff.Bottom); err != nil {
		return out, err
	}
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
