package videocore

import "sync"

// cursorProtocolPaddingQuirk pads a cursor's wire data size by this many
// bytes. Carried over from SPICE's cursor_fill, which does the same with the
// comment "blame cursor protocol for this" — kept unexplained here too and
// not re-derived; isolated in this one constant so a future wire-marshaller
// owner can remove or correct it
// without touching cache/channel logic.
const cursorProtocolPaddingQuirk = 128

// cursorCacheCapacity bounds the number of cursor shapes a client-side
// cache is assumed to hold. SPICE's CLIENT_CURSOR_CACHE_SIZE isn't present
// in the sources available here; 256 is used as a documented
// default matching typical SPICE client cache sizing.
const cursorCacheCapacity = 256

// CursorShape is the pull-side cursor command: a decoded shape plus the
// identifier the client-side cache keys on. Unique == 0 means "do not
// attempt to cache this shape" (matches red_cursor->header.unique == 0 in
// SPICE, which skips the cache entirely).
type CursorShape struct {
	Unique     uint64
	Width      int16
	Height     int16
	HotspotX   int16
	HotspotY   int16
	DataSize   uint32
	Data       []byte
}

// CursorItem is a ref-counted wrapper around one shape, grounded on
// cursor_item_new/cursor_item_unref. The channel holds one reference while
// the item is its current cursor; pipe items handed to clients carry the
// pointer without taking a reference of their own.
type CursorItem struct {
	mu    sync.Mutex
	refs  int
	shape CursorShape
}

// NewCursorItem wraps a shape with an initial reference count of 1.
func NewCursorItem(shape CursorShape) *CursorItem {
	return &CursorItem{refs: 1, shape: shape}
}

// Shape returns the wrapped cursor shape. Shapes are immutable once the
// item is constructed.
func (c *CursorItem) Shape() CursorShape {
	return c.shape
}

func (c *CursorItem) ref() *CursorItem {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return c
}

// unref drops a reference, returning true once the last reference is gone.
func (c *CursorItem) unref() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	return c.refs == 0
}

// CursorWireFlags mirrors SPICE_CURSOR_FLAGS_*, the bits set on the
// outgoing cursor message depending on cache state.
type CursorWireFlags int

const (
	CursorFlagNone CursorWireFlags = 0
	// CursorFlagFromCache is set when the client is already known to hold
	// this shape; no pixel data needs to be sent.
	CursorFlagFromCache CursorWireFlags = 1 << iota
	// CursorFlagCacheMe is set when the shape is being sent for the first
	// time and the client should retain it under Unique.
	CursorFlagCacheMe
)

// clientCursorCache is a per-client fixed-capacity cache of cursor shape
// identifiers, grounded on cache_item.tmpl.c's instantiation for
// CLIENT_CURSOR_CACHE (find/add/reset), evicting the least-recently-used
// entry once at capacity.
type clientCursorCache struct {
	mu       sync.Mutex
	capacity int
	order    []uint64 // index 0 is least-recently-used
	present  map[uint64]struct{}
}

func newClientCursorCache(capacity int) *clientCursorCache {
	return &clientCursorCache{
		capacity: capacity,
		present:  make(map[uint64]struct{}, capacity),
	}
}

// find reports whether unique is cached, marking it most-recently-used on a
// hit.
func (c *clientCursorCache) find(unique uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[unique]; !ok {
		return false
	}
	c.touch(unique)
	return true
}

// add inserts unique into the cache, evicting the LRU entry if full. added
// mirrors red_cursor_cache_add's return value, used to decide whether to set
// CACHE_ME; a non-zero evicted id must be relayed to the client as a
// CURSOR_INVAL_ONE so its copy of the cache stays in lockstep.
func (c *clientCursorCache) add(unique uint64) (added bool, evicted uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.present[unique]; ok {
		c.touch(unique)
		return false, 0
	}
	if len(c.order) >= c.capacity {
		evicted = c.order[0]
		c.order = c.order[1:]
		delete(c.present, evicted)
	}
	c.order = append(c.order, unique)
	c.present[unique] = struct{}{}
	return true, evicted
}

func (c *clientCursorCache) touch(unique uint64) {
	for i, v := range c.order {
		if v == unique {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, unique)
}

// reset clears the cache, grounded on red_cursor_cache_reset, called both on
// client disconnect and on an explicit cache-invalidation trigger (e.g. a
// migration request) as a standalone operation rather than only firing
// implicitly on disconnect.
func (c *clientCursorCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.present = make(map[uint64]struct{}, c.capacity)
}

// CursorPipeItem is the tagged union of messages queued to a cursor
// channel client, grounded on SPICE's PIPE_ITEM_TYPE_CURSOR /
// _INVAL_ONE / _INVAL_CURSOR_CACHE / _CURSOR_INIT / _VERB variants.
type CursorPipeItemKind int

const (
	CursorPipeCursor CursorPipeItemKind = iota
	CursorPipeInvalOne
	CursorPipeInvalCache
	CursorPipeInit
	CursorPipeVerb
)

type CursorPipeItem struct {
	Kind CursorPipeItemKind

	// Cmd carries the originating command's type/position/trail fields for
	// CursorPipeCursor and CursorPipeInit, so the caller's marshaller knows
	// which of CURSOR_SET/MOVE/HIDE/TRAIL/INIT to emit.
	Cmd CursorCmd

	Item       *CursorItem     // the referenced shape, for CursorPipeCursor/CursorPipeInit
	CacheFlags CursorWireFlags // from Fill, when Item is non-nil
	Data       []byte          // from Fill, when Item is non-nil
	DataSize   uint32          // from Fill, when Item is non-nil

	InvalID uint64 // only meaningful for CursorPipeInvalOne
	Verb    uint16 // only meaningful for CursorPipeVerb
}

// CursorVerbReset is the Verb value carried by a CursorPipeVerb item emitted
// by Reset, corresponding to SPICE_MSG_CURSOR_RESET. Exact wire encoding is
// the caller's concern.
const CursorVerbReset uint16 = 1

// CursorChannelClient tracks one client's cursor cache and connection
// state, grounded on CursorChannelClient plus the Disconnected -> Connected
// -> Streaming progression implied by cursor_channel_client_on_disconnect /
// cursor_channel_disconnect.
type CursorChannelClientState int

const (
	CursorClientDisconnected CursorChannelClientState = iota
	CursorClientConnected
	CursorClientStreaming
)

// CursorPipeCallback is invoked whenever a pipe item should be delivered to
// one client's transport, mirroring AckCallback's side-effect-only contract
// in the input channel: this package owns no transport of its own.
type CursorPipeCallback func(CursorPipeItem)

type CursorChannelClient struct {
	mu     sync.Mutex
	state  CursorChannelClientState
	cache  *clientCursorCache
	onItem CursorPipeCallback
}

func NewCursorChannelClient() *CursorChannelClient {
	return NewCursorChannelClientWithCapacity(cursorCacheCapacity)
}

// NewCursorChannelClientWithCapacity sizes the client's cursor cache
// explicitly; capacities below 1 fall back to the default.
func NewCursorChannelClientWithCapacity(capacity int) *CursorChannelClient {
	if capacity < 1 {
		capacity = cursorCacheCapacity
	}
	return &CursorChannelClient{
		state: CursorClientConnected,
		cache: newClientCursorCache(capacity),
	}
}

// SetPipeCallback installs the function invoked for every pipe item queued
// to this client. Safe to call before or after AddClient.
func (ccc *CursorChannelClient) SetPipeCallback(cb CursorPipeCallback) {
	ccc.mu.Lock()
	ccc.onItem = cb
	ccc.mu.Unlock()
}

func (ccc *CursorChannelClient) emit(item CursorPipeItem) {
	ccc.mu.Lock()
	cb := ccc.onItem
	ccc.mu.Unlock()
	if cb != nil {
		cb(item)
	}
}

// Fill decides the cache flags for a shape and returns the pipe item to
// queue, grounded on cursor_fill: a cache hit sends FROM_CACHE with no
// pixel data, a miss inserts into the cache and tags CACHE_ME, and
// Unique == 0 always sends full pixel data uncached. When the insert evicts
// an LRU entry, a CURSOR_INVAL_ONE pipe item for the evicted id is queued
// ahead of the fill result.
func (ccc *CursorChannelClient) Fill(item *CursorItem) (CursorWireFlags, []byte, uint32) {
	ccc.mu.Lock()
	shape := item.shape
	if shape.Unique == 0 {
		ccc.mu.Unlock()
		return CursorFlagNone, shape.Data, shape.DataSize + cursorProtocolPaddingQuirk
	}
	if ccc.cache.find(shape.Unique) {
		ccc.mu.Unlock()
		return CursorFlagFromCache, nil, 0
	}
	flags := CursorWireFlags(CursorFlagNone)
	added, evicted := ccc.cache.add(shape.Unique)
	if added {
		flags = CursorFlagCacheMe
	}
	ccc.mu.Unlock()

	if evicted != 0 {
		ccc.emit(CursorPipeItem{Kind: CursorPipeInvalOne, InvalID: evicted})
	}
	return flags, shape.Data, shape.DataSize + cursorProtocolPaddingQuirk
}

// ResetCache clears this client's cursor cache independent of disconnect —
// e.g. on an explicit cache-invalidation trigger — and emits the
// CURSOR_INVAL_ALL pipe item the cleared cache implies.
func (ccc *CursorChannelClient) ResetCache() {
	ccc.cache.reset()
	ccc.emit(CursorPipeItem{Kind: CursorPipeInvalCache})
}

// Disconnect resets the cache and marks the client disconnected, matching
// cursor_channel_client_on_disconnect's call into red_reset_cursor_cache, and
// emits the same CURSOR_INVAL_ALL pipe item ResetCache does (harmless if the
// transport is already tearing down; the caller is free to drop it).
func (ccc *CursorChannelClient) Disconnect() {
	ccc.mu.Lock()
	ccc.state = CursorClientDisconnected
	ccc.mu.Unlock()
	ccc.cache.reset()
	ccc.emit(CursorPipeItem{Kind: CursorPipeInvalCache})
}

func (ccc *CursorChannelClient) State() CursorChannelClientState {
	ccc.mu.Lock()
	defer ccc.mu.Unlock()
	return ccc.state
}

// CursorChannel fans cursor updates out to connected clients. It holds no
// transport of its own; it hands pipe items to each client's
// CursorPipeCallback for the caller's transport layer to serialize and send.
type CursorChannel struct {
	mu      sync.Mutex
	clients map[*CursorChannelClient]struct{}

	mouseMode   MouseMode
	visible     bool
	position    [2]int32
	trailLength uint16
	trailFreq   uint16
	current     *CursorItem
}

func NewCursorChannel() *CursorChannel {
	return &CursorChannel{
		clients: make(map[*CursorChannelClient]struct{}),
		visible: true,
	}
}

// SetMouseMode controls ProcessCmd's move-gating: in server mode every move
// is broadcast; in client mode a move is broadcast only when it re-shows a
// previously hidden cursor.
func (ch *CursorChannel) SetMouseMode(mode MouseMode) {
	ch.mu.Lock()
	ch.mouseMode = mode
	ch.mu.Unlock()
}

// CursorCmdType is the QXL_CURSOR_* command discriminant ProcessCmd
// dispatches on.
type CursorCmdType int

const (
	CursorCmdSet CursorCmdType = iota
	CursorCmdMove
	CursorCmdHide
	CursorCmdTrail
)

// CursorCmd is one command from the cursor-producing worker, grounded on
// RedCursorCmd's Set/Move/Hide/Trail variants.
type CursorCmd struct {
	Type CursorCmdType

	Shape   CursorShape // CursorCmdSet
	Visible bool        // CursorCmdSet

	Position [2]int32 // CursorCmdSet, CursorCmdMove

	TrailLength uint16 // CursorCmdTrail
	TrailFreq   uint16 // CursorCmdTrail
}

// ProcessCmd applies one cursor command to channel state and, unless
// suppressed, queues a CursorPipeCursor item to every connected client.
// Grounded on cursor_channel_process_cmd: a Move is broadcast only when
// mouse mode is server-relative or the cursor was previously hidden
// (re-show); every other command type always broadcasts.
func (ch *CursorChannel) ProcessCmd(cmd CursorCmd) {
	ch.mu.Lock()

	var newItem *CursorItem
	show := false
	switch cmd.Type {
	case CursorCmdSet:
		newItem = NewCursorItem(cmd.Shape)
		ch.visible = cmd.Visible
		ch.setCurrentLocked(newItem)
	case CursorCmdMove:
		show = !ch.visible
		ch.visible = true
		ch.position = cmd.Position
	case CursorCmdHide:
		ch.visible = false
	case CursorCmdTrail:
		ch.trailLength = cmd.TrailLength
		ch.trailFreq = cmd.TrailFreq
	}

	broadcast := ch.mouseMode == MouseModeServer || cmd.Type != CursorCmdMove || show
	current := ch.current
	clients := ch.clientsLocked()
	ch.mu.Unlock()

	if newItem != nil {
		// setCurrentLocked took its own reference; release the
		// construction-time reference held by this call.
		newItem.unref()
	}

	if !broadcast {
		return
	}
	for _, c := range clients {
		c.deliverCursor(cmd, current)
	}
}

func (ch *CursorChannel) clientsLocked() []*CursorChannelClient {
	out := make([]*CursorChannelClient, 0, len(ch.clients))
	for c := range ch.clients {
		out = append(out, c)
	}
	return out
}

// deliverCursor computes this client's cache flags for a Set command (via
// Fill) and emits the resulting pipe item.
func (ccc *CursorChannelClient) deliverCursor(cmd CursorCmd, item *CursorItem) {
	pipeItem := CursorPipeItem{Kind: CursorPipeCursor, Cmd: cmd, Item: item}
	if cmd.Type == CursorCmdSet && item != nil {
		flags, data, size := ccc.Fill(item)
		pipeItem.CacheFlags = flags
		pipeItem.Data = data
		pipeItem.DataSize = size
	}
	ccc.emit(pipeItem)
}

// AddClient registers a client and, when a current cursor shape exists,
// seeds it with a CursorPipeInit item carrying the channel's current
// visibility/position/trail state plus the fill result for that client's
// (necessarily empty) cache. Grounded on red_marshall_cursor_init /
// PIPE_ITEM_TYPE_CURSOR_INIT.
func (ch *CursorChannel) AddClient(c *CursorChannelClient) {
	ch.mu.Lock()
	ch.clients[c] = struct{}{}
	init := CursorPipeItem{
		Kind: CursorPipeInit,
		Cmd: CursorCmd{
			Visible:     ch.visible,
			Position:    ch.position,
			TrailLength: ch.trailLength,
			TrailFreq:   ch.trailFreq,
		},
	}
	current := ch.current
	ch.mu.Unlock()

	if current != nil {
		flags, data, size := c.Fill(current)
		init.Item = current
		init.CacheFlags = flags
		init.Data = data
		init.DataSize = size
	}
	c.emit(init)
}

// Reset releases the current cursor reference, restores default visibility/
// position/trail state, and tells every connected client to invalidate its
// cache and reset, grounded on cursor_channel_reset (the migration-specific
// target-migrate skip is out of scope here; this module has no migration
// concept).
func (ch *CursorChannel) Reset() {
	ch.mu.Lock()
	prev := ch.current
	ch.current = nil
	ch.visible = true
	ch.position = [2]int32{}
	ch.trailLength = 0
	ch.trailFreq = 0
	clients := ch.clientsLocked()
	ch.mu.Unlock()

	if prev != nil {
		prev.unref()
	}
	for _, c := range clients {
		c.emit(CursorPipeItem{Kind: CursorPipeInvalCache})
		c.emit(CursorPipeItem{Kind: CursorPipeVerb, Verb: CursorVerbReset})
	}
}

func (ch *CursorChannel) RemoveClient(c *CursorChannelClient) {
	ch.mu.Lock()
	delete(ch.clients, c)
	ch.mu.Unlock()
	c.Disconnect()
}

// SetCursor installs a new current cursor shape, releasing the reference to
// whichever shape it replaces.
func (ch *CursorChannel) SetCursor(item *CursorItem) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.setCurrentLocked(item)
}

// setCurrentLocked takes a reference on item as the new current cursor and
// releases the previous one. Caller must hold ch.mu.
func (ch *CursorChannel) setCurrentLocked(item *CursorItem) {
	prev := ch.current
	ch.current = item.ref()
	if prev != nil {
		prev.unref()
	}
}

// Hide marks the cursor hidden without discarding the current shape, so a
// subsequent Show can restore it without a resend.
func (ch *CursorChannel) Hide() {
	ch.mu.Lock()
	ch.visible = false
	ch.mu.Unlock()
}

func (ch *CursorChannel) Show() {
	ch.mu.Lock()
	ch.visible = true
	ch.mu.Unlock()
}

// Move updates the cursor position, queued to clients as a CURSOR_MOVE pipe
// item by the caller (outside the scope of this component, which owns
// state, not wire serialization).
func (ch *CursorChannel) Move(x, y int32) {
	ch.mu.Lock()
	ch.position = [2]int32{x, y}
	ch.mu.Unlock()
}
