package receiver

// Receiver opens sessions against a remote mailbox.
type Receiver interface {
	// Open connects, authenticates and selects the watched mailbox.
	Open() (Session, error)
}

// Session is one authenticated mailbox connection. Message identifiers it
// returns are only meaningful within the same session.
type Session interface {
	// Unseen lists messages without the \Seen flag, in server order.
	Unseen() ([]uint32, error)

	// Fetch returns the raw RFC 5322 bytes of a message without marking it seen.
	Fetch(id uint32) ([]byte, error)

	// MarkSeen adds the \Seen flag to a message.
	MarkSeen(id uint32) error

	// Close logs out and releases the connection.
	Close() error
}
