package fingerprint

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Passive is the structural fingerprint of a status response: artifacts of
// the serializer that produced it rather than of its contents.
type Passive struct {
	// IncorrectOrder is set when the top-level keys, or the keys inside
	// players or version, deviate from the vanilla serializer's order.
	IncorrectOrder bool
	// FieldOrder records the observed order when it is incorrect, e.g.
	// "players(online,max),description,version".
	FieldOrder string
	// EmptySample is set when a sample array is present but empty; vanilla
	// omits the field entirely when nobody is online.
	EmptySample bool
	// EmptyFavicon is set when the favicon field is present as "".
	EmptyFavicon bool
}

var (
	// vanilla serializer orders; 23w07a/1.19.4 moved version to the front
	orderModern = []string{"version", "description", "players"}
	orderLegacy = []string{"description", "players", "version"}

	playersOrder = []string{"max", "online"}
	versionOrder = []string{"name", "protocol"}
)

// canonicalOrder picks the expected top-level key order for a protocol
// version. Snapshot protocol numbers have bit 30 set.
func canonicalOrder(protocol int) []string {
	if protocol >= 1073741943 || (protocol >= 762 && protocol <= 0x40000000) {
		return orderModern
	}
	return orderLegacy
}

// passiveFingerprint compares the raw wire order of JSON keys against the
// vanilla serializer. data must be a syntactically valid JSON object.
func passiveFingerprint(data []byte, protocol int, emptySample, emptyFavicon bool) Passive {
	p := Passive{EmptySample: emptySample, EmptyFavicon: emptyFavicon}

	top, players, version, err := keyOrders(data)
	if err != nil {
		p.IncorrectOrder = true
		return p
	}

	correct := canonicalOrder(protocol)
	topSeen := filterKeys(top, correct)
	playersSeen := filterKeys(players, playersOrder)
	versionSeen := filterKeys(version, versionOrder)

	if !equalKeys(topSeen, correct) ||
		!equalKeys(playersSeen, playersOrder) ||
		!equalKeys(versionSeen, versionOrder) {
		p.IncorrectOrder = true
		p.FieldOrder = orderString(topSeen, playersSeen, versionSeen)
	}
	return p
}

// orderString renders the observed order for rule-building, appending the
// nested order in parentheses where it deviates.
func orderString(top, players, version []string) string {
	var sb strings.Builder
	for i, key := range top {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(key)
		if key == "players" && !equalKeys(players, playersOrder) {
			sb.WriteString("(" + strings.Join(players, ",") + ")")
		} else if key == "version" && !equalKeys(version, versionOrder) {
			sb.WriteString("(" + strings.Join(version, ",") + ")")
		}
	}
	return sb.String()
}

func filterKeys(keys, allowed []string) []string {
	var out []string
	for _, k := range keys {
		for _, a := range allowed {
			if k == a {
				out = append(out, k)
				break
			}
		}
	}
	return out
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// keyOrders walks the raw document and collects top-level keys plus the
// keys of the nested players and version objects, in wire order. The
// standard decoder's maps lose ordering, so this uses the token stream.
func keyOrders(data []byte) (top, players, version []string, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	t, err := dec.Token()
	if err != nil {
		return nil, nil, nil, err
	}
	if d, ok := t.(json.Delim); !ok || d != '{' {
		return nil, nil, nil, ErrNotStatus
	}

	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, nil, nil, err
		}
		key, ok := t.(string)
		if !ok {
			return nil, nil, nil, ErrNotStatus
		}
		top = append(top, key)

		switch key {
		case "players", "version":
			keys, consumed, err := objectKeys(dec)
			if err != nil {
				return nil, nil, nil, err
			}
			if !consumed {
				// not an object, value already skipped
				break
			}
			if key == "players" {
				players = keys
			} else {
				version = keys
			}
		default:
			if err := skipValue(dec); err != nil {
				return nil, nil, nil, err
			}
		}
	}
	return top, players, version, nil
}

// objectKeys reads one value; if it is an object it returns its keys in
// order, otherwise it skips the value and reports consumed=false.
func objectKeys(dec *json.Decoder) (keys []string, consumed bool, err error) {
	t, err := dec.Token()
	if err != nil {
		return nil, false, err
	}
	d, ok := t.(json.Delim)
	if !ok {
		return nil, false, nil // scalar
	}
	if d == '[' {
		return nil, false, skipOpen(dec)
	}
	// d == '{'
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, false, err
		}
		key, ok := t.(string)
		if !ok {
			return nil, false, ErrNotStatus
		}
		keys = append(keys, key)
		if err := skipValue(dec); err != nil {
			return nil, false, err
		}
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, false, err
	}
	return keys, true, nil
}

// skipValue consumes exactly one JSON value from the stream.
func skipValue(dec *json.Decoder) error {
	t, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := t.(json.Delim); ok && (d == '{' || d == '[') {
		return skipOpen(dec)
	}
	return nil
}

// skipOpen consumes the remainder of a container whose opening delimiter
// was already read.
func skipOpen(dec *json.Decoder) error {
	depth := 1
	for depth > 0 {
		t, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := t.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}
