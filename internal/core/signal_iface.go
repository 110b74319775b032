package core

// Frame is a raw JSON payload as it crosses a transport channel.
type Frame []byte

// SignalConnection abstracts a client's messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
