package indexdb

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"voxelpipe.dev/internal/sim/catalogs"
	"voxelpipe.dev/internal/sim/tuning"
)

type catalogRow struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
	JSON   string `json:"json"`
}

// catalogRows captures the raw atlas file (when readable), the resolved
// palette and the tuning values actually applied.
func catalogRows(configDir string, atlas *catalogs.Atlas, tune tuning.Tuning) ([]catalogRow, error) {
	var rows []catalogRow
	if configDir != "" {
		if b, err := os.ReadFile(filepath.Join(configDir, "atlas.json")); err == nil && len(b) > 0 {
			rows = append(rows, catalogRow{Name: "atlas", Digest: atlas.Digest, JSON: string(b)})
		}
	}
	pal, err := json.Marshal(atlas.Palette)
	if err != nil {
		return nil, err
	}
	rows = append(rows, catalogRow{Name: "palette", Digest: digest(pal), JSON: string(pal)})

	tb, err := json.Marshal(tune)
	if err != nil {
		return nil, err
	}
	rows = append(rows, catalogRow{Name: "tuning", Digest: digest(tb), JSON: string(tb)})
	return rows, nil
}

func digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
