package reactor

const (
	channelTableInitSize = 32
	// DefaultMaxChannels is the hard cap of a channel table.
	DefaultMaxChannels = 1 << 16
)

// ChannelTable maps a descriptor to its channel. It is touched only by the owning loop.
// Entries do not own the channels, they only make them visible to dispatch.
type ChannelTable struct {
	entries []*Channel
	maxSize int
}

func newChannelTable(maxSize int) *ChannelTable {
	if maxSize <= 0 {
		maxSize = DefaultMaxChannels
	}
	size := channelTableInitSize
	if size > maxSize {
		size = maxSize
	}
	return &ChannelTable{
		entries: make([]*Channel, size),
		maxSize: maxSize,
	}
}

// Len returns the number of slots currently allocated.
func (t *ChannelTable) Len() int {
	return len(t.entries)
}

// expand grows the table so that slot becomes addressable. The capacity doubles, capped
// at maxSize, with a single reallocation.
func (t *ChannelTable) expand(slot int) error {
	if slot < len(t.entries) {
		return nil
	}
	if slot >= t.maxSize {
		return ErrChannelTableFull
	}

	size := len(t.entries)
	if size == 0 {
		size = 1
	}
	for size <= slot {
		size <<= 1
	}
	if size > t.maxSize {
		size = t.maxSize
	}

	entries := make([]*Channel, size)
	copy(entries, t.entries)
	t.entries = entries
	return nil
}

// Get returns the channel for fd, or nil.
func (t *ChannelTable) Get(fd int) *Channel {
	if fd < 0 || fd >= len(t.entries) {
		return nil
	}
	return t.entries[fd]
}

func (t *ChannelTable) set(fd int, ch *Channel) {
	t.entries[fd] = ch
}

func (t *ChannelTable) clear(fd int) {
	t.entries[fd] = nil
}

// Range calls fn for every registered channel until fn returns false.
func (t *ChannelTable) Range(fn func(fd int, ch *Channel) bool) {
	for fd, ch := range t.entries {
		if ch == nil {
			continue
		}
		if !fn(fd, ch) {
			return
		}
	}
}
