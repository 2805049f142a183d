package peersession

// State of a Session.
type State int

// Session states in the order they are normally visited.
const (
	Connecting State = iota
	Handshaking
	AwaitingBitfield
	Idle // choked, not interested yet
	Interested
	Unchoked
	Requesting
	Closed
)

var stateStrings = [...]string{
	Connecting:       "connecting",
	Handshaking:      "handshaking",
	AwaitingBitfield: "awaiting bitfield",
	Idle:             "idle",
	Interested:       "interested",
	Unchoked:         "unchoked",
	Requesting:       "requesting",
	Closed:           "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateStrings) {
		return "unknown"
	}
	return stateStrings[s]
}
