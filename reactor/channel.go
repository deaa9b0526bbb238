package reactor

// EventCallback is invoked by the owning loop when a channel becomes ready.
type EventCallback func() error

// Channel binds one descriptor to its interest mask and callbacks. The interest mask is
// changed only through EventLoop.EnableWriting / DisableWriting so that the dispatcher
// always sees the same interest as the record.
type Channel struct {
	fd      int
	events  EventMask
	onRead  EventCallback
	onWrite EventCallback
	owner   any // connection, acceptor or loop that created the channel
}

// NewChannel creates a channel. Either callback may be nil.
func NewChannel(fd int, events EventMask, onRead, onWrite EventCallback, owner any) *Channel {
	return &Channel{
		fd:      fd,
		events:  events,
		onRead:  onRead,
		onWrite: onWrite,
		owner:   owner,
	}
}

// Fd returns the descriptor of the channel.
func (c *Channel) Fd() int {
	return c.fd
}

// Events returns the current interest mask.
func (c *Channel) Events() EventMask {
	return c.events
}

func (c *Channel) IsReading() bool {
	return c.events&EventRead != 0
}

func (c *Channel) IsWriting() bool {
	return c.events&EventWrite != 0
}

// Owner returns the object the channel was created for.
func (c *Channel) Owner() any {
	return c.owner
}
