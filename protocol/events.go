package protocol

import "github.com/fragglet/q2client/entity"

// EventKind tags which field of Event is populated. Matching on Kind is the
// exhaustive-switch equivalent of the original sum type; Event itself stays
// a plain struct so callers don't need a type assertion per variant.
type EventKind int

const (
	EventDisconnect EventKind = iota
	EventReconnect
	EventPrint
	EventStuffText
	EventCenterPrint
	EventServerData
	EventConfigString
	EventDeltaEntity
)

// ServerDataMessage carries the fields of a ServerData command.
type ServerDataMessage struct {
	Protocol     uint32
	ServerCount  uint32
	AttractLoop  uint8
	Gamedir      string
	ClientNum    uint16
	Levelname    string
	ProtocolInfo Version
}

// ConfigStringMessage carries the fields of a ConfigString command.
type ConfigStringMessage struct {
	Index uint16
	Value []byte
}

// Event is a decoded server-to-client command. Subscribers borrow it for
// the duration of their callback only; retaining it past that requires a
// copy, since the byte slices alias the received datagram's buffer.
type Event struct {
	Kind EventKind
	Op   ServerOp

	PrintLevel  PrintLevel
	Bytes       []byte // Print, StuffText, CenterPrint payload
	ServerData  *ServerDataMessage
	ConfigString *ConfigStringMessage
	DeltaEntity *entity.Delta
}
