package reactor

import "fmt"

type channelOp uint8

const (
	opAdd channelOp = iota
	opRemove
	opUpdate
)

func (op channelOp) String() string {
	switch op {
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	case opUpdate:
		return "update"
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// pendingOperation is a registration change waiting to be applied by the owning thread.
type pendingOperation struct {
	kind    channelOp
	fd      int
	channel *Channel
	// done, when set, runs on the owning thread once the operation was applied.
	done func(error)
}

type completion struct {
	done func(error)
	err  error
}
