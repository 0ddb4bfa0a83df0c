package output

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mat-1/matscan/internal/fingerprint"
	"github.com/mat-1/matscan/internal/targets"
)

func statusWithSample(t *testing.T, online int, players ...string) *fingerprint.Status {
	t.Helper()
	sample := ""
	for i, name := range players {
		if i > 0 {
			sample += ","
		}
		// servers assign anonymous players random uuids; use distinct
		// v4-shaped ids so the sample stays plausible
		id := fingerprint.OfflineUUID(name).String()
		if name == fingerprint.AnonymousPlayerName {
			id = fmt.Sprintf("00000000-0000-4000-8000-%012d", i)
		}
		sample += fmt.Sprintf(`{"name": %q, "id": %q}`, name, id)
	}
	raw := fmt.Sprintf(`{
		"version": {"name": "1.20.1", "protocol": 763},
		"description": "x",
		"players": {"max": 100, "online": %d, "sample": [%s]}
	}`, online, sample)
	s, err := fingerprint.ParseStatus([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestSniperJoinLeave(t *testing.T) {
	var events []string
	s := NewSniper([]string{"Notch"}, false, "", func(msg string) {
		events = append(events, msg)
	})
	target := targets.Target{IP: 0x01020304, Port: 25565}

	s.Observe(target, statusWithSample(t, 1, "jeb_"))
	assert.Empty(t, events, "unwatched players never notify")

	s.Observe(target, statusWithSample(t, 2, "jeb_", "Notch"))
	require.Len(t, events, 1)
	assert.Equal(t, "Notch joined 1.2.3.4:25565", events[0])

	// still online, no repeat notification
	s.Observe(target, statusWithSample(t, 2, "jeb_", "Notch"))
	assert.Len(t, events, 1)

	s.Observe(target, statusWithSample(t, 1, "jeb_"))
	require.Len(t, events, 2)
	assert.Equal(t, "Notch left 1.2.3.4:25565", events[1])
}

// Observe runs on the reply path; webhook delivery must happen on its own
// goroutine so a stalled endpoint cannot block it.
func TestSniperWebhookDoesNotBlockObserve(t *testing.T) {
	gate := make(chan struct{})
	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-gate
		body, _ := io.ReadAll(r.Body)
		received <- string(body)
	}))
	defer srv.Close()

	s := NewSniper([]string{"Notch"}, false, srv.URL, nil)
	defer s.Close()
	target := targets.Target{IP: 0x01020304, Port: 25565}

	start := time.Now()
	s.Observe(target, statusWithSample(t, 1, "Notch"))
	require.Less(t, time.Since(start), time.Second, "Observe must not wait on the webhook")

	close(gate)
	select {
	case body := <-received:
		assert.Contains(t, body, "Notch joined 1.2.3.4:25565")
	case <-time.After(5 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestSniperIgnoresFakeSamples(t *testing.T) {
	var events []string
	s := NewSniper([]string{"Notch"}, false, "", func(msg string) {
		events = append(events, msg)
	})
	target := targets.Target{IP: 1, Port: 25565}

	st := statusWithSample(t, 1, "Notch")
	st.FakeSample = true
	s.Observe(target, st)
	assert.Empty(t, events)
}

func TestSniperAnonPlayers(t *testing.T) {
	var events []string
	s := NewSniper(nil, true, "", func(msg string) {
		events = append(events, msg)
	})
	target := targets.Target{IP: 1, Port: 25565}
	anon := fingerprint.AnonymousPlayerName

	// first anonymous sighting
	s.Observe(target, statusWithSample(t, 3, "jeb_", anon))
	require.Len(t, events, 1)
	assert.Contains(t, events[0], "for the first time")

	// two more anonymous players joining is a burst
	s.Observe(target, statusWithSample(t, 5, "jeb_", anon, anon, anon))
	require.Len(t, events, 2)
	assert.Contains(t, events[1], "2 anonymous players joined")
}

func TestSniperAnonBotsSuppressed(t *testing.T) {
	var events []string
	s := NewSniper(nil, true, "", func(msg string) {
		events = append(events, msg)
	})
	target := targets.Target{IP: 1, Port: 25565}
	anon := fingerprint.AnonymousPlayerName

	// seed a previous sample so the burst heuristic can apply
	s.Observe(target, statusWithSample(t, 1, anon))
	events = nil

	// an all-anonymous sample of 8+ looks like a bot farm, stay quiet
	all := make([]string, 9)
	for i := range all {
		all[i] = anon
	}
	s.Observe(target, statusWithSample(t, 9, all...))
	assert.Empty(t, events)
}
