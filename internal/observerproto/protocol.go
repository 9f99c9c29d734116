package observerproto

// Version is the observer protocol version.
const Version = "0.1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeMesh      = "MESH"
	TypeRemove    = "REMOVE"
	TypeTick      = "TICK"
)

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Bound on queued messages for this client; older meshes are dropped
	// first when it falls behind.
	MaxQueue int `json:"max_queue,omitempty"`
	// Skip TICK summaries.
	NoTicks bool `json:"no_ticks,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	WorldParams     WorldParams `json:"world_params"`
	BlockPalette    []string    `json:"block_palette"`
	Atlas           AtlasInfo   `json:"atlas"`
}

type WorldParams struct {
	TickRateHz      int    `json:"tick_rate_hz"`
	ChunkSize       [3]int `json:"chunk_size"`
	Seed            int64  `json:"seed"`
	RenderDistance  int    `json:"render_distance"`
	VerticalDivisor int    `json:"vertical_divisor"`
	UnloadRadius    int    `json:"unload_radius"`
}

type AtlasInfo struct {
	Texture string `json:"texture"`
	Size    [2]int `json:"size"`
	Digest  string `json:"digest"`
}

// Server -> Client. Geometry of one chunk, replacing any earlier MESH at the
// same coord. Positions are chunk-local xyz triples; add Origin for world
// space. UVs are uv pairs, one per vertex.
type MeshMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Coord    [3]int `json:"coord"`
	Origin   [3]int `json:"origin"`
	Material string `json:"material,omitempty"`

	Positions []float32 `json:"positions"`
	Indices   []uint32  `json:"indices"`
	UVs       []float32 `json:"uvs"`
}

// Server -> Client. The chunk at Coord no longer has geometry.
type RemoveMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Coord           [3]int `json:"coord"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Focus      [3]float32 `json:"focus"`
	FocusChunk [3]int     `json:"focus_chunk"`

	Loaded     int `json:"loaded"`
	Generating int `json:"generating"`
	Meshed     int `json:"meshed"`
	Evicted    int `json:"evicted"`
	Edits      int `json:"edits"`
}
