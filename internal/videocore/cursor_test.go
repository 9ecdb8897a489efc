package videocore

import "testing"

func TestCursorItemRefCounting(t *testing.T) {
	item := NewCursorItem(CursorShape{Unique: 1})
	item.ref() // a second holder alongside the construction reference
	if item.unref() {
		t.Fatal("unref should return false while other refs remain")
	}
	item.ref()
	if item.unref() {
		t.Fatal("unref should return false, one ref remains after re-ref + one unref")
	}
	if !item.unref() {
		t.Fatal("unref should return true on the final reference")
	}
}

func TestClientCursorCacheFindMiss(t *testing.T) {
	c := newClientCursorCache(4)
	if c.find(42) {
		t.Fatal("find on an empty cache should miss")
	}
}

func TestClientCursorCacheAddThenFindHits(t *testing.T) {
	c := newClientCursorCache(4)
	added, _ := c.add(42)
	if !added {
		t.Fatal("add should report true for a new entry")
	}
	added, _ = c.add(42)
	if added {
		t.Fatal("add should report false for an already-cached entry")
	}
	if !c.find(42) {
		t.Fatal("find should hit after add")
	}
}

func TestClientCursorCacheEvictsLRU(t *testing.T) {
	c := newClientCursorCache(2)
	c.add(1)
	c.add(2)
	// touch 1 so 2 becomes the LRU entry
	c.find(1)
	_, evicted := c.add(3) // should evict 2, not 1

	if evicted != 2 {
		t.Fatalf("evicted = %d, want 2 (the least-recently-used entry)", evicted)
	}
	if c.find(2) {
		t.Fatal("entry 2 should have been evicted as least-recently-used")
	}
	if !c.find(1) {
		t.Fatal("entry 1 should still be cached")
	}
	if !c.find(3) {
		t.Fatal("entry 3 should be cached after eviction")
	}
}

func TestCursorChannelClientFillEmitsInvalOneOnEviction(t *testing.T) {
	ccc := NewCursorChannelClient()
	ccc.cache = newClientCursorCache(1)

	var invalidated []uint64
	ccc.SetPipeCallback(func(item CursorPipeItem) {
		if item.Kind == CursorPipeInvalOne {
			invalidated = append(invalidated, item.InvalID)
		}
	})

	ccc.Fill(NewCursorItem(CursorShape{Unique: 1, Data: []byte{1}, DataSize: 1}))
	ccc.Fill(NewCursorItem(CursorShape{Unique: 2, Data: []byte{2}, DataSize: 1}))

	if len(invalidated) != 1 || invalidated[0] != 1 {
		t.Fatalf("invalidated = %v, want exactly [1] after the second fill evicts the first", invalidated)
	}
}

func TestClientCursorCacheReset(t *testing.T) {
	c := newClientCursorCache(4)
	c.add(1)
	c.reset()
	if c.find(1) {
		t.Fatal("find should miss on everything after reset")
	}
}

func TestCursorChannelClientFillZeroUniqueAlwaysSendsData(t *testing.T) {
	ccc := NewCursorChannelClient()
	item := NewCursorItem(CursorShape{Unique: 0, Data: []byte{1, 2, 3}, DataSize: 3})

	flags, data, size := ccc.Fill(item)
	if flags != CursorFlagNone {
		t.Fatalf("flags = %v, want CursorFlagNone for Unique==0", flags)
	}
	if len(data) != 3 {
		t.Fatalf("data len = %d, want 3", len(data))
	}
	if size != 3+cursorProtocolPaddingQuirk {
		t.Fatalf("size = %d, want %d", size, 3+cursorProtocolPaddingQuirk)
	}

	// A second Fill with the same Unique==0 shape must still send full data —
	// zero never gets cached.
	flags2, data2, _ := ccc.Fill(item)
	if flags2 != CursorFlagNone || len(data2) != 3 {
		t.Fatal("Unique==0 must never be served from cache")
	}
}

func TestCursorChannelClientFillCacheMissThenHit(t *testing.T) {
	ccc := NewCursorChannelClient()
	item := NewCursorItem(CursorShape{Unique: 7, Data: []byte{9, 9}, DataSize: 2})

	flags, data, _ := ccc.Fill(item)
	if flags != CursorFlagCacheMe {
		t.Fatalf("flags = %v, want CursorFlagCacheMe on first send", flags)
	}
	if len(data) != 2 {
		t.Fatal("first send of a new shape must include pixel data")
	}

	flags2, data2, size2 := ccc.Fill(item)
	if flags2 != CursorFlagFromCache {
		t.Fatalf("flags = %v, want CursorFlagFromCache on repeat send", flags2)
	}
	if data2 != nil || size2 != 0 {
		t.Fatal("a cache hit must not resend pixel data")
	}
}

func TestCursorChannelClientDisconnectResetsCache(t *testing.T) {
	ccc := NewCursorChannelClient()
	item := NewCursorItem(CursorShape{Unique: 7, Data: []byte{9}, DataSize: 1})
	ccc.Fill(item)

	ccc.Disconnect()
	if ccc.State() != CursorClientDisconnected {
		t.Fatal("state should be disconnected after Disconnect")
	}

	flags, _, _ := ccc.Fill(item)
	if flags != CursorFlagCacheMe {
		t.Fatal("cache should be empty again after disconnect, forcing a resend")
	}
}

func TestCursorChannelSetCursorReleasesPrevious(t *testing.T) {
	ch := NewCursorChannel()
	a := NewCursorItem(CursorShape{Unique: 1})
	b := NewCursorItem(CursorShape{Unique: 2})

	ch.SetCursor(a)
	ch.SetCursor(b)

	// a was ref'd once by SetCursor and unref'd once when replaced; its
	// original creation ref (1) should make this the final release.
	if !a.unref() {
		t.Fatal("replaced cursor item should have exactly one ref left (its creation ref) by the time of this check")
	}
}

func TestCursorChannelHideShow(t *testing.T) {
	ch := NewCursorChannel()
	ch.Show()
	if !ch.visible {
		t.Fatal("visible should be true after Show")
	}
	ch.Hide()
	if ch.visible {
		t.Fatal("visible should be false after Hide")
	}
}

func TestCursorChannelAddRemoveClient(t *testing.T) {
	ch := NewCursorChannel()
	c := NewCursorChannelClient()
	ch.AddClient(c)
	if _, ok := ch.clients[c]; !ok {
		t.Fatal("client should be tracked after AddClient")
	}
	ch.RemoveClient(c)
	if _, ok := ch.clients[c]; ok {
		t.Fatal("client should be removed after RemoveClient")
	}
	if c.State() != CursorClientDisconnected {
		t.Fatal("RemoveClient should disconnect the client")
	}
}
