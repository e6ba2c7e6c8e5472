package pipeline

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"scenecast/internal/domain"
)

// Event is one progress notification for a run.
type Event struct {
	JobID     string       `json:"job_id"`
	Stage     domain.Stage `json:"stage"`
	Label     string       `json:"label"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// Observer receives progress events synchronously from the run. It must not
// block; observers that need buffering queue internally.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(e Event) { f(e) }

// StageLabel renders a stage for display, e.g. "Composing Scene".
func StageLabel(s domain.Stage) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// subscriberBuffer is the number of undelivered events kept per subscriber.
const subscriberBuffer = 32

// Broadcaster fans events out to per-job subscribers. Delivery never blocks
// the run: a subscriber whose buffer is full misses the event. Subscriptions
// for a job are closed after its terminal event.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	closed bool
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a channel of events for jobID and a function that ends
// the subscription. The channel is closed on terminal events, on cancel and
// when the broadcaster shuts down.
func (b *Broadcaster) Subscribe(jobID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	set, ok := b.subs[jobID]
	if !ok {
		set = make(map[chan Event]struct{})
		b.subs[jobID] = set
	}
	set[ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[jobID]; ok {
				if _, live := set[ch]; live {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, jobID)
				}
			}
		})
	}
	return ch, cancel
}

// Notify implements Observer.
func (b *Broadcaster) Notify(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[e.JobID]
	for ch := range set {
		select {
		case ch <- e:
		default:
		}
	}
	if e.Stage.Terminal() {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, e.JobID)
	}
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, set := range b.subs {
		for ch := range set {
			close(ch)
		}
		delete(b.subs, id)
	}
	b.closed = true
}

// Fanout combines observers; each is notified in order.
func Fanout(observers ...Observer) Observer {
	return multiObserver(observers)
}

type multiObserver []Observer

func (m multiObserver) Notify(e Event) {
	for _, o := range m {
		if o != nil {
			o.Notify(e)
		}
	}
}

var _ Observer = (*Broadcaster)(nil)
