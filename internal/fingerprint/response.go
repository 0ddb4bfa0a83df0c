// Package fingerprint parses Minecraft status responses and classifies the
// server implementation that produced them. Classification is pure and
// deterministic: the same raw bytes always yield the same tag and flags.
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"
)

// AnonymousPlayerName is the placeholder some servers report for players
// who opted out of the sample.
const AnonymousPlayerName = "Anonymous Player"

// Servers with this MOTD randomize the online player count and sample.
const privacyPingMOTD = "To protect the privacy of this server and its\nusers, you must log in once to see ping data."

// ErrNotStatus marks payloads that decoded as JSON but are missing every
// field a status response would carry.
var ErrNotStatus = errors.New("fingerprint: not a status response")

// SamplePlayer is one entry from the status player sample.
type SamplePlayer struct {
	Name string
	ID   uuid.UUID
}

// Status is a decoded status response plus everything the classifier
// derived from it.
type Status struct {
	DescriptionJSON  string
	DescriptionPlain string

	VersionName     *string
	VersionProtocol *int

	Favicon     *string
	FaviconHash []byte // sha256 truncated to 16 bytes, nil when no favicon

	OnlinePlayers *int
	MaxPlayers    *int

	Sample     []SamplePlayer
	OnlineMode *bool
	// FakeSample means the sample failed a plausibility check and must not
	// be treated as real player sightings.
	FakeSample bool

	EnforcesSecureChat  *bool
	PreviewsChat        *bool
	PreventsChatReports *bool

	// mod-loader markers
	HasForgeData           bool
	ForgeFMLNetworkVersion *int
	ModinfoType            *string
	IsModded               *bool
	ModpackProjectID       *int
	ModpackName            *string
	ModpackVersion         *string

	Passive Passive
}

// ParseStatus decodes a raw status response body (the JSON document, already
// stripped of protocol framing). Hostile and truncated input returns an
// error, never a panic.
func ParseStatus(raw []byte) (*Status, error) {
	data := stripNUL(raw)

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("fingerprint: status json: %w", err)
	}

	descRaw, hasDesc := top["description"]
	players := asObject(top["players"])
	_, hasPlayers := top["players"]
	version := asObject(top["version"])
	_, hasVersion := top["version"]

	// Some servers omit one of these, but a payload missing all three is
	// not a Minecraft status response at all.
	if !hasDesc && !hasPlayers && !hasVersion {
		return nil, ErrNotStatus
	}

	s := &Status{
		DescriptionJSON:  sanitize(string(descRaw)),
		DescriptionPlain: sanitize(flattenChat(descRaw)),
	}

	if v, ok := asString(version["name"]); ok {
		v = sanitize(v)
		s.VersionName = &v
	}
	if v, ok := asInt(version["protocol"]); ok {
		s.VersionProtocol = &v
	}
	if v, ok := asInt(players["online"]); ok {
		s.OnlinePlayers = &v
	}
	if v, ok := asInt(players["max"]); ok {
		s.MaxPlayers = &v
	}
	if v, ok := asBool(top["enforcesSecureChat"]); ok {
		s.EnforcesSecureChat = &v
	}
	if v, ok := asBool(top["previewsChat"]); ok {
		s.PreviewsChat = &v
	}
	if v, ok := asBool(top["preventsChatReports"]); ok {
		s.PreventsChatReports = &v
	}

	if favicon, ok := asString(top["favicon"]); ok {
		favicon = sanitize(favicon)
		// anything that is not an inline PNG is junk some implementations
		// stuff into the field
		if strings.HasPrefix(favicon, "data:image/png;base64,") {
			sum := sha256.Sum256([]byte(favicon))
			s.Favicon = &favicon
			s.FaviconHash = sum[:16]
		}
	}

	if forgeData, ok := top["forgeData"]; ok {
		s.HasForgeData = true
		if v, ok := asInt(asObject(forgeData)["fmlNetworkVersion"]); ok {
			s.ForgeFMLNetworkVersion = &v
		}
	}
	if v, ok := asString(asObject(top["modinfo"])["type"]); ok {
		v = sanitize(v)
		s.ModinfoType = &v
	}
	if v, ok := asBool(top["isModded"]); ok {
		s.IsModded = &v
	}
	if modpack := asObject(top["modpackData"]); modpack != nil {
		if v, ok := asInt(modpack["projectID"]); ok {
			s.ModpackProjectID = &v
		}
		if v, ok := asString(modpack["name"]); ok {
			v = sanitize(v)
			s.ModpackName = &v
		}
		if v, ok := asString(modpack["version"]); ok {
			v = sanitize(v)
			s.ModpackVersion = &v
		}
	}

	s.FakeSample = s.DescriptionPlain == privacyPingMOTD
	sampleRaw, sampleExists := players["sample"]
	s.parseSample(sampleRaw)

	protocol := 0
	if s.VersionProtocol != nil {
		protocol = *s.VersionProtocol
	}
	faviconEmpty := false
	if f, ok := asString(top["favicon"]); ok && f == "" {
		faviconEmpty = true
	}
	sampleEmpty := sampleExists && asArray(sampleRaw) != nil && len(asArray(sampleRaw)) == 0

	s.Passive = passiveFingerprint(data, protocol, sampleEmpty, faviconEmpty)

	return s, nil
}

// parseSample fills Sample, OnlineMode, and FakeSample from the raw sample
// array. Entries missing a name or a parseable uuid, and duplicate uuids,
// mark the whole sample as fake.
func (s *Status) parseSample(raw json.RawMessage) {
	arr := asArray(raw)
	if arr == nil {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(arr))
	for _, entry := range arr {
		obj := asObject(entry)
		name, ok := asString(obj["name"])
		if !ok {
			s.FakeSample = true
			continue
		}
		name = sanitize(name)
		idStr, ok := asString(obj["id"])
		if !ok {
			s.FakeSample = true
			continue
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			s.FakeSample = true
			continue
		}
		if _, dup := seen[id]; dup {
			s.FakeSample = true
			continue
		}
		seen[id] = struct{}{}

		switch {
		case id.Version() == 4:
			online := true
			s.OnlineMode = &online
		case id.Version() == 3:
			if id == OfflineUUID(name) {
				if s.OnlineMode == nil {
					offline := false
					s.OnlineMode = &offline
				}
			} else {
				// a name-derived uuid that doesn't match the name means
				// the account is authenticated under a different identity
				online := true
				s.OnlineMode = &online
			}
		case id == uuid.Nil && name == AnonymousPlayerName:
			// tells us nothing either way
		default:
			s.FakeSample = true
		}

		s.Sample = append(s.Sample, SamplePlayer{Name: name, ID: id})
	}
}

// IdentityHash summarizes the response fields that stay stable across ports
// of the same underlying server. Used for aliased-IP detection.
func (s *Status) IdentityHash() uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.DescriptionPlain))
	h.Write([]byte{0})
	if s.VersionName != nil {
		h.Write([]byte(*s.VersionName))
	}
	h.Write([]byte{0})
	var buf [8]byte
	if s.VersionProtocol != nil {
		putInt(&buf, *s.VersionProtocol)
		h.Write(buf[:])
	}
	h.Write([]byte{0})
	if s.MaxPlayers != nil {
		putInt(&buf, *s.MaxPlayers)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func putInt(buf *[8]byte, v int) {
	u := uint64(int64(v))
	for i := 0; i < 8; i++ {
		buf[i] = byte(u >> (8 * i))
	}
}

// tolerant accessors: wrong types yield "absent", never an error

func asObject(raw json.RawMessage) map[string]json.RawMessage {
	if raw == nil {
		return nil
	}
	var m map[string]json.RawMessage
	if json.Unmarshal(raw, &m) != nil {
		return nil
	}
	return m
}

func asArray(raw json.RawMessage) []json.RawMessage {
	if raw == nil {
		return nil
	}
	var a []json.RawMessage
	if json.Unmarshal(raw, &a) != nil {
		return nil
	}
	return a
}

func asString(raw json.RawMessage) (string, bool) {
	if raw == nil {
		return "", false
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, true
}

func asInt(raw json.RawMessage) (int, bool) {
	if raw == nil {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		return 0, false
	}
	return int(f), true
}

func asBool(raw json.RawMessage) (bool, bool) {
	if raw == nil {
		return false, false
	}
	var b bool
	if json.Unmarshal(raw, &b) != nil {
		return false, false
	}
	return b, true
}

// sanitize drops NUL runes, which downstream text sinks reject.
func sanitize(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)
}

func stripNUL(b []byte) []byte {
	out := b
	for i := 0; i < len(out); i++ {
		if out[i] == 0 {
			clean := make([]byte, 0, len(out))
			for _, c := range out {
				if c != 0 {
					clean = append(clean, c)
				}
			}
			return clean
		}
	}
	return out
}

// flattenChat renders a chat component (string, array, or object with text
// and extra) to plain text, stripping legacy formatting codes.
func flattenChat(raw json.RawMessage) string {
	if raw == nil {
		return ""
	}
	var v any
	if json.Unmarshal(raw, &v) != nil {
		return ""
	}
	var sb strings.Builder
	flattenChatValue(v, &sb)
	return stripLegacyCodes(sb.String())
}

func flattenChatValue(v any, sb *strings.Builder) {
	switch t := v.(type) {
	case string:
		sb.WriteString(t)
	case []any:
		for _, e := range t {
			flattenChatValue(e, sb)
		}
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			sb.WriteString(s)
		}
		if extra, ok := t["extra"].([]any); ok {
			for _, e := range extra {
				flattenChatValue(e, sb)
			}
		}
	}
}

// stripLegacyCodes removes two-character § sequences.
func stripLegacyCodes(s string) string {
	if !strings.ContainsRune(s, '§') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	skip := false
	for _, r := range s {
		if skip {
			skip = false
			continue
		}
		if r == '§' {
			skip = true
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
