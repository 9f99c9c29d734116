package observer

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxelpipe.dev/internal/observerproto"
	"voxelpipe.dev/internal/sim/world"
	"voxelpipe.dev/internal/sim/world/logic/mathx"
)

type Options struct {
	WorldID string
	Params  observerproto.WorldParams
	Palette []string
	Atlas   observerproto.AtlasInfo

	MaxClients int
	SendBuffer int
	// Accept non-loopback clients.
	AllowRemote bool
}

// Server streams chunk geometry to WebSocket observers. It is a world.Sink:
// Attach and Detach are buffered and published together with the tick
// summary in ObserveTick, so every message carries the tick that produced it.
type Server struct {
	opts Options
	log  *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	tick     atomic.Uint64

	mu      sync.Mutex
	meshes  map[mathx.Vec3i][]byte
	pending []pendingMsg
	clients map[string]*client
}

type pendingMsg struct {
	coord mathx.Vec3i
	mesh  *world.ChunkMesh
}

// tickQueue bounds the TICK backlog per observer. Ticks are summaries, so a
// slow reader only ever needs the newest few.
const tickQueue = 8

// client keeps geometry and tick summaries apart. Ticks drop oldest; MESH and
// REMOVE are never dropped, a full data queue marks the client lagging and
// the writer disconnects it so it can resubscribe and receive the replay.
type client struct {
	id      string
	data    chan []byte
	ticks   chan []byte
	noTicks bool
	dropped atomic.Uint64

	lagOnce sync.Once
	lagging chan struct{}
}

var errLagging = errors.New("observer lagging")

func NewServer(opts Options, logger *log.Logger) *Server {
	if opts.MaxClients <= 0 {
		opts.MaxClients = 16
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 1024
	}
	return &Server{
		opts: opts,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		meshes:  map[mathx.Vec3i][]byte{},
		clients: map[string]*client{},
	}
}

func (s *Server) Attach(m world.ChunkMesh) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingMsg{coord: m.Coord, mesh: &m})
	s.mu.Unlock()
}

func (s *Server) Detach(coord mathx.Vec3i) {
	s.mu.Lock()
	s.pending = append(s.pending, pendingMsg{coord: coord})
	s.mu.Unlock()
}

func (s *Server) ObserveTick(e world.TickLogEntry) {
	s.tick.Store(e.Tick)

	tickMsg, err := json.Marshal(observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            e.Tick,
		Focus:           e.Focus,
		FocusChunk:      e.FocusChunk,
		Loaded:          e.Loaded,
		Generating:      e.Generating,
		Meshed:          e.Meshed,
		Evicted:         e.Evicted,
		Edits:           e.EditsApplied,
	})
	if err != nil {
		s.printf("warn: encode tick %d: %v", e.Tick, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, 0, len(s.pending))
	for _, p := range s.pending {
		var b []byte
		if p.mesh != nil {
			b, err = json.Marshal(EncodeMesh(e.Tick, *p.mesh))
		} else {
			b, err = json.Marshal(observerproto.RemoveMsg{
				Type:            observerproto.TypeRemove,
				ProtocolVersion: observerproto.Version,
				Tick:            e.Tick,
				Coord:           p.coord.Array(),
			})
		}
		if err != nil {
			s.printf("warn: encode chunk %v: %v", p.coord, err)
			continue
		}
		if p.mesh != nil {
			s.meshes[p.coord] = b
		} else {
			delete(s.meshes, p.coord)
		}
		out = append(out, b)
	}
	s.pending = s.pending[:0]

	for _, c := range s.clients {
		for _, b := range out {
			if !c.sendData(b) {
				break
			}
		}
		if !c.noTicks {
			c.sendTick(tickMsg)
		}
	}
}

// EncodeMesh flattens a chunk mesh into its wire form.
func EncodeMesh(tick uint64, m world.ChunkMesh) observerproto.MeshMsg {
	msg := observerproto.MeshMsg{
		Type:            observerproto.TypeMesh,
		ProtocolVersion: observerproto.Version,
		Tick:            tick,
		Coord:           m.Coord.Array(),
		Origin:          m.Origin.Array(),
		Material:        m.Material,
		Positions:       []float32{},
		Indices:         []uint32{},
		UVs:             []float32{},
	}
	if m.Surface == nil {
		return msg
	}
	msg.Positions = make([]float32, 0, 3*len(m.Surface.Positions))
	for _, p := range m.Surface.Positions {
		msg.Positions = append(msg.Positions, p[0], p[1], p[2])
	}
	msg.Indices = append([]uint32(nil), m.Surface.Indices...)
	msg.UVs = make([]float32, 0, 2*len(m.Surface.UVs))
	for _, uv := range m.Surface.UVs {
		msg.UVs = append(msg.UVs, uv[0], uv[1])
	}
	return msg
}

// CachedCoords lists the coordinates whose latest mesh would be replayed to
// a new observer.
func (s *Server) CachedCoords() []mathx.Vec3i {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mathx.Vec3i, 0, len(s.meshes))
	for c := range s.meshes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !s.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         s.opts.WorldID,
			Tick:            s.tick.Load(),
			WorldParams:     s.opts.Params,
			BlockPalette:    s.opts.Palette,
			Atlas:           s.opts.Atlas,
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !s.opts.AllowRemote && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			closeWith(conn, websocket.ClosePolicyViolation, "bad subscribe")
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			closeWith(conn, websocket.ClosePolicyViolation, "expected SUBSCRIBE")
			return
		}

		c, replay, ok := s.join(sub)
		if !ok {
			closeWith(conn, websocket.CloseTryAgainLater, "server busy")
			return
		}
		defer s.leave(c)

		done := make(chan struct{})
		writeErr := make(chan error, 1)
		go func() {
			err := s.writeLoop(conn, c, replay, done)
			if err != nil {
				// Unblocks the reader below.
				_ = conn.Close()
			}
			writeErr <- err
		}()

		// Reader loop: only watches for close.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		close(done)
		closeWith(conn, websocket.CloseNormalClosure, "bye")

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// join registers a client and returns the cached meshes to replay. Both
// happen under one lock so no later broadcast can be overtaken by the replay.
func (s *Server) join(sub observerproto.SubscribeMsg) (*client, [][]byte, bool) {
	q := sub.MaxQueue
	if q <= 0 || q > s.opts.SendBuffer {
		q = s.opts.SendBuffer
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= s.opts.MaxClients {
		return nil, nil, false
	}
	c := &client{
		id:      fmt.Sprintf("O%d", s.nextID.Add(1)),
		data:    make(chan []byte, q),
		ticks:   make(chan []byte, tickQueue),
		noTicks: sub.NoTicks,
		lagging: make(chan struct{}),
	}
	s.clients[c.id] = c

	coords := make([]mathx.Vec3i, 0, len(s.meshes))
	for coord := range s.meshes {
		coords = append(coords, coord)
	}
	sort.Slice(coords, func(i, j int) bool { return coords[i].Less(coords[j]) })
	replay := make([][]byte, 0, len(coords))
	for _, coord := range coords {
		replay = append(replay, s.meshes[coord])
	}
	return c, replay, true
}

func (s *Server) leave(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	if n := c.dropped.Load(); n > 0 {
		s.printf("observer %s dropped %d tick(s)", c.id, n)
	}
	if c.isLagging() {
		s.printf("warn: observer %s disconnected: data queue full (cap=%d)", c.id, cap(c.data))
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, c *client, replay [][]byte, done <-chan struct{}) error {
	write := func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	for _, b := range replay {
		select {
		case <-done:
			return nil
		default:
		}
		if err := write(b); err != nil {
			return err
		}
	}
	for {
		select {
		case <-done:
			return nil
		case <-c.lagging:
			closeWith(conn, websocket.CloseTryAgainLater, "observer too slow; resubscribe")
			return errLagging
		case b := <-c.data:
			if err := write(b); err != nil {
				return err
			}
		case b := <-c.ticks:
			// A tick is queued after the geometry it summarizes; flush that first.
			if err := c.drainData(write); err != nil {
				return err
			}
			if err := write(b); err != nil {
				return err
			}
		}
	}
}

func (c *client) drainData(write func([]byte) error) error {
	for {
		select {
		case b := <-c.data:
			if err := write(b); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// sendData never blocks the tick goroutine. It reports false once the client
// is lagging; everything after the first overflow is discarded because the
// connection is about to be closed.
func (c *client) sendData(b []byte) bool {
	if c.isLagging() {
		return false
	}
	select {
	case c.data <- b:
		return true
	default:
		c.lagOnce.Do(func() { close(c.lagging) })
		return false
	}
}

func (c *client) isLagging() bool {
	select {
	case <-c.lagging:
		return true
	default:
		return false
	}
}

// sendTick never blocks; a full tick queue loses its oldest entry.
func (c *client) sendTick(b []byte) {
	select {
	case c.ticks <- b:
		return
	default:
	}
	select {
	case <-c.ticks:
		c.dropped.Add(1)
	default:
	}
	select {
	case c.ticks <- b:
	default:
		c.dropped.Add(1)
	}
}

func (s *Server) printf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
