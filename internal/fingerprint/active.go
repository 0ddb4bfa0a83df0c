package fingerprint

import (
	"bytes"
	"regexp"
	"strings"
)

// Vanilla-derived servers answer a malformed login start with an IOException
// naming the packet class they failed to decode. The class name leaks which
// mappings the server was built with.
var loginErrorRe = regexp.MustCompile(`java\.io\.IOException: Packet \d+/\d+ \(([^)]+)\)`)

var nodeMinecraftProtocolPrefix = []byte{0x03, 0x03, 0x80, 0x02}

// ClassifyLoginError tags a server from the raw bytes it sent in response
// to a deliberately malformed login start packet.
func ClassifyLoginError(data []byte) Tag {
	text := string(data)

	if m := loginErrorRe.FindStringSubmatch(text); m != nil {
		packet := m[1]
		switch {
		case packet == "PacketLoginInStart":
			// Spigot mappings
			return TagPaper
		case packet == "ServerboundHelloPacket":
			// official mappings shipped by Forge
			return TagForge
		case strings.HasPrefix(packet, "class_"):
			// intermediary mappings
			return TagFabric
		case len(packet) == 3:
			// obfuscated
			return TagVanilla
		default:
			return TagUnknown
		}
	}

	if strings.Contains(text, "This server has mods that require Forge to be installed on the client. Contact your server admin for more details.") ||
		strings.Contains(text, "This server has mods that require FML/Forge to be installed on the client. Contact your server admin for more details.") {
		return TagForge
	}
	if bytes.HasPrefix(data, nodeMinecraftProtocolPrefix) {
		return TagNodeMinecraftProtocol
	}
	if len(data) == 0 {
		return TagEmpty
	}
	return TagUnknown
}
