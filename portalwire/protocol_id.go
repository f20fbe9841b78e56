package portalwire

import "fmt"

// ProtocolId is the talk protocol name a portal sub-network registers with
// discv5.
type ProtocolId string

const (
	History ProtocolId = "\x50\x0b"
	Utp     ProtocolId = "utp"
)

var protocolNames = map[ProtocolId]string{
	History: "history",
	Utp:     "utp",
}

func (p ProtocolId) Name() string {
	if name, ok := protocolNames[p]; ok {
		return name
	}
	return fmt.Sprintf("%x", string(p))
}

// ProtocolIdByName resolves a network name as used on the command line.
func ProtocolIdByName(name string) (ProtocolId, bool) {
	for id, n := range protocolNames {
		if n == name && id != Utp {
			return id, true
		}
	}
	return "", false
}
