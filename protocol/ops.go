// Package protocol implements the server-to-client command stream: the
// op-code table, per-op payload parsers, and the event-subscriber registry
// that a decoded command is dispatched through.
package protocol

import "fmt"

// Version identifies a negotiated protocol variant. Only Vanilla is
// implemented by this client; R1Q2 and Q2Pro are named so a caller can
// reject them explicitly during negotiation.
type Version uint8

const (
	Vanilla Version = 34
	R1Q2    Version = 35
	Q2Pro   Version = 36
)

// ServerOp is a server-to-client command byte. Unknown bytes are not a
// distinct sentinel value (the original client used Invalid = -1) but fold
// into the ordinary byte space: callers compare against the named
// constants and treat anything else as unknown; String reports such a byte
// as "Unknown(n)".
type ServerOp uint8

const (
	OpBad                 ServerOp = 0
	OpMuzzleFlash         ServerOp = 1
	OpMuzzleFlash2        ServerOp = 2
	OpTempEntity          ServerOp = 3
	OpLayout              ServerOp = 4
	OpInventory           ServerOp = 5
	OpNop                 ServerOp = 6
	OpDisconnect          ServerOp = 7
	OpReconnect           ServerOp = 8
	OpSound               ServerOp = 9
	OpPrint               ServerOp = 10
	OpStuffText           ServerOp = 11
	OpServerData          ServerOp = 12
	OpConfigString        ServerOp = 13
	OpSpawnBaseline       ServerOp = 14
	OpCenterPrint         ServerOp = 15
	OpDownload            ServerOp = 16
	OpPlayerInfo          ServerOp = 17
	OpPacketEntities      ServerOp = 18
	OpDeltaPacketEntities ServerOp = 19
	OpFrame               ServerOp = 20
	OpZPacket             ServerOp = 21
	OpZDownload           ServerOp = 22
	OpGamestate           ServerOp = 23
	OpSetting             ServerOp = 24
)

var serverOpNames = map[ServerOp]string{
	OpBad:                 "Bad",
	OpMuzzleFlash:         "MuzzleFlash",
	OpMuzzleFlash2:        "MuzzleFlash2",
	OpTempEntity:          "TempEntity",
	OpLayout:              "Layout",
	OpInventory:           "Inventory",
	OpNop:                 "Nop",
	OpDisconnect:          "Disconnect",
	OpReconnect:           "Reconnect",
	OpSound:               "Sound",
	OpPrint:               "Print",
	OpStuffText:           "StuffText",
	OpServerData:          "ServerData",
	OpConfigString:        "ConfigString",
	OpSpawnBaseline:       "SpawnBaseline",
	OpCenterPrint:         "CenterPrint",
	OpDownload:            "Download",
	OpPlayerInfo:          "PlayerInfo",
	OpPacketEntities:      "PacketEntities",
	OpDeltaPacketEntities: "DeltaPacketEntities",
	OpFrame:               "Frame",
	OpZPacket:             "ZPacket",
	OpZDownload:           "ZDownload",
	OpGamestate:           "Gamestate",
	OpSetting:             "Setting",
}

func (op ServerOp) String() string {
	if name, ok := serverOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", uint8(op))
}

// ClientOp is a client-to-server command byte.
type ClientOp uint8

const (
	ClientOpBad             ClientOp = 0
	ClientOpNop             ClientOp = 1
	ClientOpMove            ClientOp = 2
	ClientOpUserinfo        ClientOp = 3
	ClientOpStringCmd       ClientOp = 4
	ClientOpSetting         ClientOp = 5
	ClientOpMoveNodelta     ClientOp = 10
	ClientOpMoveBatched     ClientOp = 11
	ClientOpUserinfoDelta   ClientOp = 12
)

// PrintLevel classifies a Print event's severity.
type PrintLevel uint8

const (
	PrintLow    PrintLevel = 0
	PrintMedium PrintLevel = 1
	PrintHigh   PrintLevel = 2
	PrintChat   PrintLevel = 3
)

func (p PrintLevel) String() string {
	switch p {
	case PrintLow:
		return "Low"
	case PrintMedium:
		return "Medium"
	case PrintHigh:
		return "High"
	case PrintChat:
		return "Chat"
	default:
		return "unknown"
	}
}
