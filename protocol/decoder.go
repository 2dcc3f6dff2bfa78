package protocol

import (
	"errors"

	"github.com/fragglet/q2client/entity"
	"github.com/fragglet/q2client/internal/cursor"
)

// ErrBadOp is returned when the Bad (0) op-code is received. This is a
// fatal protocol violation, not a recoverable decode gap.
var ErrBadOp = errors.New("protocol: received Bad op-code")

// Subscriber receives a read-only view of each decoded Event for the op it
// was registered against. It must not retain the Event past the call.
type Subscriber func(*Event)

// stopOps is the set of ops this vanilla-only decoder accepts but does not
// know how to parse. Their payload length isn't known to us, so receiving
// one ends the decode loop for this datagram rather than guessing at a
// skip length.
var stopOps = map[ServerOp]bool{
	OpMuzzleFlash:         true,
	OpMuzzleFlash2:        true,
	OpTempEntity:          true,
	OpLayout:              true,
	OpInventory:           true,
	OpNop:                 true,
	OpSound:               true,
	OpDownload:            true,
	OpPlayerInfo:          true,
	OpPacketEntities:      true,
	OpDeltaPacketEntities: true,
	OpFrame:               true,
	OpZPacket:             true,
	OpZDownload:           true,
	OpGamestate:           true,
	OpSetting:             true,
}

// Decoder turns the command-byte stream that follows an accepted netchan
// packet into a sequence of Events, dispatching each to any subscribers
// registered for its op.
type Decoder struct {
	subscribers map[ServerOp][]Subscriber
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{subscribers: map[ServerOp][]Subscriber{}}
}

// Subscribe registers sub to be invoked for every future Event decoded for
// op.
func (d *Decoder) Subscribe(op ServerOp, sub Subscriber) {
	d.subscribers[op] = append(d.subscribers[op], sub)
}

// Decode consumes r until it is exhausted, a malformed or not-implemented
// payload is encountered, or the Bad op-code appears. It returns every
// Event successfully decoded before that point.
func (d *Decoder) Decode(r *cursor.Reader) ([]Event, error) {
	var events []Event

	for {
		opByte, err := r.ReadUint8()
		if err != nil {
			break
		}
		op := ServerOp(opByte)

		if op == OpBad {
			return events, ErrBadOp
		}
		if stopOps[op] {
			break
		}

		event, err := decodeOp(op, r)
		if err != nil || event == nil {
			break
		}
		event.Op = op

		d.dispatch(op, event)
		events = append(events, *event)
	}

	return events, nil
}

func (d *Decoder) dispatch(op ServerOp, event *Event) {
	for _, sub := range d.subscribers[op] {
		sub(event)
	}
}

func decodeOp(op ServerOp, r *cursor.Reader) (*Event, error) {
	switch op {
	case OpDisconnect:
		return &Event{Kind: EventDisconnect}, nil
	case OpReconnect:
		return &Event{Kind: EventReconnect}, nil
	case OpPrint:
		return decodePrint(r)
	case OpStuffText:
		return &Event{Kind: EventStuffText, Bytes: r.ReadCString()}, nil
	case OpCenterPrint:
		return &Event{Kind: EventCenterPrint, Bytes: r.ReadCString()}, nil
	case OpServerData:
		return decodeServerData(r)
	case OpConfigString:
		return decodeConfigString(r)
	case OpSpawnBaseline:
		return decodeSpawnBaseline(r)
	default:
		return nil, nil
	}
}

func decodePrint(r *cursor.Reader) (*Event, error) {
	level, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	return &Event{
		Kind:       EventPrint,
		PrintLevel: PrintLevel(level),
		Bytes:      r.ReadCString(),
	}, nil
}

func decodeServerData(r *cursor.Reader) (*Event, error) {
	protocol, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	serverCount, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	attractLoop, err := r.ReadUint8()
	if err != nil {
		return nil, err
	}
	gamedir := r.ReadCString()
	clientNum, err := r.ReadUint16LE()
	if err != nil {
		return nil, err
	}
	levelname := r.ReadCString()

	return &Event{
		Kind: EventServerData,
		ServerData: &ServerDataMessage{
			Protocol:     protocol,
			ServerCount:  serverCount,
			AttractLoop:  attractLoop,
			Gamedir:      string(gamedir),
			ClientNum:    clientNum,
			Levelname:    string(levelname),
			ProtocolInfo: Vanilla,
		},
	}, nil
}

func decodeConfigString(r *cursor.Reader) (*Event, error) {
	index, err := r.ReadUint16LE()
	if err != nil {
		return nil, err
	}
	return &Event{
		Kind:         EventConfigString,
		ConfigString: &ConfigStringMessage{Index: index, Value: r.ReadCString()},
	}, nil
}

func decodeSpawnBaseline(r *cursor.Reader) (*Event, error) {
	delta, err := entity.ParseDelta(r)
	if err != nil {
		return nil, err
	}
	return &Event{Kind: EventDeltaEntity, DeltaEntity: delta}, nil
}
