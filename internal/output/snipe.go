package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mat-1/matscan/internal/fingerprint"
	"github.com/mat-1/matscan/internal/targets"
)

// Sniper diffs consecutive player samples per server and notifies a webhook
// when a watched player joins or leaves, or when anonymous players show up
// on small servers.
type Sniper struct {
	mu      sync.Mutex
	watched map[string]struct{}
	// last sample usernames per server
	cache       map[targets.Target][]string
	seenAnon    map[targets.Target]bool
	anonPlayers bool

	notify func(message string)
	queue  chan string
	done   chan struct{}
}

const snipeQueueSize = 64

// NewSniper watches the given usernames. notify may be nil, in which case
// events are delivered to webhookURL as a Discord-style content payload.
// Webhook delivery runs on its own goroutine behind a bounded queue;
// Observe is called from the reply path, so a slow webhook must never
// stall it. Events are dropped when the queue is full.
func NewSniper(usernames []string, anonPlayers bool, webhookURL string, notify func(string)) *Sniper {
	s := &Sniper{
		watched:     make(map[string]struct{}, len(usernames)),
		cache:       make(map[targets.Target][]string),
		seenAnon:    make(map[targets.Target]bool),
		anonPlayers: anonPlayers,
		notify:      notify,
	}
	for _, u := range usernames {
		s.watched[u] = struct{}{}
	}
	if s.notify == nil {
		s.queue = make(chan string, snipeQueueSize)
		s.done = make(chan struct{})
		go s.deliver(webhookURL)
		s.notify = func(message string) {
			select {
			case s.queue <- message:
			default:
				log.Warn().Msg("snipe: queue full, dropping notification")
			}
		}
	}
	return s
}

func (s *Sniper) deliver(url string) {
	defer close(s.done)
	for msg := range s.queue {
		postContent(url, msg)
	}
}

// Close drains queued notifications and stops the delivery goroutine.
// No-op when a custom notify function is in use.
func (s *Sniper) Close() {
	if s.queue == nil {
		return
	}
	close(s.queue)
	<-s.done
}

// Observe compares the sample against the previous one for this server and
// fires notifications for joins and leaves. Fake samples are ignored.
func (s *Sniper) Observe(target targets.Target, status *fingerprint.Status) {
	if status.FakeSample {
		return
	}

	current := make([]string, 0, len(status.Sample))
	for _, p := range status.Sample {
		current = append(current, p.Name)
	}

	s.mu.Lock()
	previous := s.cache[target]
	s.cache[target] = current
	firstAnon := false
	if s.anonPlayers && !s.seenAnon[target] && countAnon(current) > 0 {
		s.seenAnon[target] = true
		firstAnon = countAnon(previous) == 0
	}
	s.mu.Unlock()

	addr := formatTarget(target)

	for _, name := range current {
		if _, ok := s.watched[name]; !ok {
			continue
		}
		if !contains(previous, name) {
			s.notify(fmt.Sprintf("%s joined %s", name, addr))
		}
	}
	for _, name := range previous {
		if _, ok := s.watched[name]; !ok {
			continue
		}
		if !contains(current, name) {
			s.notify(fmt.Sprintf("%s left %s", name, addr))
		}
	}

	if s.anonPlayers {
		s.observeAnon(previous, current, status, addr, firstAnon)
	}
}

// observeAnon applies the anonymous-player heuristics: a burst of new
// anonymous players on a small server is interesting, a server whose whole
// sample is anonymous bots is not.
func (s *Sniper) observeAnon(previous, current []string, status *fingerprint.Status, addr string, firstAnon bool) {
	online := 0
	if status.OnlinePlayers != nil {
		online = *status.OnlinePlayers
	}
	if online >= 25 {
		return
	}

	prevAnon := countAnon(previous)
	curAnon := countAnon(current)
	newAnon := curAnon - prevAnon

	allAnon := curAnon == len(current) && len(current) > 0
	tooManyAnon := curAnon >= 8 && allAnon

	switch {
	case len(previous) > 0 && newAnon >= 2 && !tooManyAnon:
		s.notify(fmt.Sprintf("%d anonymous players joined **%s**", newAnon, addr))
	case firstAnon && curAnon > 0:
		s.notify(fmt.Sprintf("anonymous player joined **%s** for the first time", addr))
	}
}

func countAnon(names []string) int {
	n := 0
	for _, name := range names {
		if name == fingerprint.AnonymousPlayerName {
			n++
		}
	}
	return n
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func formatTarget(t targets.Target) string {
	return fmt.Sprintf("%s:%d", targets.Uint32ToIP(t.IP), t.Port)
}

func postContent(url, message string) {
	body, _ := json.Marshal(map[string]string{"content": message})
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Warn().Err(err).Msg("snipe: webhook post failed")
		return
	}
	resp.Body.Close()
}
