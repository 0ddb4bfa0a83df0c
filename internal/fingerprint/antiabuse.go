package fingerprint

import "strings"

// Hosting-provider placeholder pages and operators who asked to be left
// out. Matched as substrings of the plaintext description.
var bannedDescriptions = []string{
	"Craftserve.pl - wydajny hosting Minecraft!",
	"Pay for the server on https://craftserve.com to be able to log in.",
	"Craftserve: Error finding route. Please contact support.",
	"Nie znaleziono serwera o podanym adresie, zakup go na https://craftserve.com",
	"Ochrona DDoS: Przekroczono limit polaczen.",
	"¨ |  ",
	"Start the server at FalixNodes.net/start",
	"This server is offline Powered by FalixNodes.net",
	"Serwer jest aktualnie wy",
	"Blad pobierania statusu. Polacz sie bezposrednio!",
	"Error connecting to server#",
	"The hub for all Devlencio servers",
	"Players World — равноправие",
}

var bannedVersions = []string{
	"COSMIC GUARD",
	"TCPShield.com",
	"â  Error",
	"⚠ Error",
}

// Allowed reports whether a response may be recorded, filtering out
// placeholder and do-not-scan responses before they reach any sink.
func Allowed(s *Status) bool {
	for _, banned := range bannedDescriptions {
		if strings.Contains(s.DescriptionPlain, banned) {
			return false
		}
	}
	if s.VersionName != nil {
		for _, banned := range bannedVersions {
			if strings.Contains(*s.VersionName, banned) {
				return false
			}
		}
	}
	return true
}
