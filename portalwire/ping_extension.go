package portalwire

import (
	"slices"

	pingext "github.com/zen-eth/portalnode/portalwire/ping_ext"
)

var defaultPingExtensions = []uint16{pingext.ClientInfo, pingext.BasicRadius, pingext.Error}

var _ pingext.PingExtension = DefaultPingExtension{}

type DefaultPingExtension struct{}

func (h DefaultPingExtension) IsSupported(ext uint16) bool {
	return slices.Contains(defaultPingExtensions, ext)
}

func (h DefaultPingExtension) Extensions() []uint16 {
	return defaultPingExtensions
}

var historySupportedExtensions = []uint16{pingext.ClientInfo, pingext.HistoryRadius, pingext.Error}

var _ pingext.PingExtension = HistoryPingExtension{}

type HistoryPingExtension struct{}

func (h HistoryPingExtension) IsSupported(ext uint16) bool {
	return slices.Contains(historySupportedExtensions, ext)
}

func (h HistoryPingExtension) Extensions() []uint16 {
	return historySupportedExtensions
}

func pingExtensionFor(id ProtocolId) pingext.PingExtension {
	switch id {
	case History:
		return HistoryPingExtension{}
	default:
		return DefaultPingExtension{}
	}
}
