package topic

import "github.com/lightforgemedia/go-notebooksync/pkg/wire"

// DefaultPriority is the order in which targets are requested when several
// become requestable at once.
var DefaultPriority = []Kind{KindBatchTable, KindNotebook, KindFile}

// Ordered returns priority followed by any kinds it omits, in default order.
func Ordered(priority []Kind) []Kind {
	out := make([]Kind, 0, len(DefaultPriority))
	seen := make(map[Kind]bool, len(DefaultPriority))
	for _, k := range append(append([]Kind(nil), priority...), DefaultPriority...) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// Entry is a read-only view of one tracked target.
type Entry struct {
	Target  Target
	State   State
	Attempt int
}

type entry struct {
	target  Target
	state   State
	attempt int
	acked   map[wire.Topic]bool
}

func (e *entry) view() Entry {
	return Entry{Target: e.target, State: e.state, Attempt: e.attempt}
}

func (e *entry) live() bool {
	return e.state == Requested || e.state == Confirmed
}

// orphan is a target that is no longer desired but may still be subscribed
// on the server.
type orphan struct {
	target Target
	sent   bool
	open   map[wire.Topic]bool
}

// Registry holds the desired targets (one per kind), their subscription
// state, targets awaiting unsubscribe, and the queue of intents raised before
// authentication. A Registry is not safe for concurrent use; the zero value
// is ready to use.
type Registry struct {
	slots   map[Kind]*entry
	orphans map[Target]*orphan
	queue   []Intent
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) init() {
	if r.slots == nil {
		r.slots = make(map[Kind]*entry)
	}
	if r.orphans == nil {
		r.orphans = make(map[Target]*orphan)
	}
}

// Clone returns a deep copy.
func (r *Registry) Clone() *Registry {
	c := &Registry{
		slots:   make(map[Kind]*entry, len(r.slots)),
		orphans: make(map[Target]*orphan, len(r.orphans)),
		queue:   append([]Intent(nil), r.queue...),
	}
	for k, e := range r.slots {
		ce := *e
		ce.acked = make(map[wire.Topic]bool, len(e.acked))
		for t, v := range e.acked {
			ce.acked[t] = v
		}
		c.slots[k] = &ce
	}
	for k, o := range r.orphans {
		co := *o
		co.open = make(map[wire.Topic]bool, len(o.open))
		for t, v := range o.open {
			co.open[t] = v
		}
		c.orphans[k] = &co
	}
	return c
}

// Desire records t as the wanted target of its kind and returns the intents
// that would converge the server: an unsubscribe for a replaced target the
// server may hold, and a subscribe for t unless it is already requested or
// confirmed. Re-desiring a failed target makes it requestable again.
func (r *Registry) Desire(t Target) []Intent {
	r.init()
	var intents []Intent
	if cur, ok := r.slots[t.Kind]; ok && cur.target != t {
		intents = append(intents, r.release(cur)...)
	}
	e, ok := r.slots[t.Kind]
	if !ok {
		e = &entry{target: t}
		r.slots[t.Kind] = e
	}
	if e.state == Failed {
		e.state = NotRequested
	}
	if e.state == NotRequested {
		intents = append(intents, Intent{Op: OpSubscribe, Target: t})
	}
	return intents
}

// Clear drops the desired target of kind, returning the unsubscribe intent
// when the server may hold it.
func (r *Registry) Clear(kind Kind) []Intent {
	r.init()
	cur, ok := r.slots[kind]
	if !ok {
		return nil
	}
	return r.release(cur)
}

// SetContext replaces the whole desired set. Kinds absent from targets are
// cleared. Later targets of the same kind win.
func (r *Registry) SetContext(targets []Target) []Intent {
	want := make(map[Kind]Target)
	for _, t := range targets {
		want[t.Kind] = t
	}
	var intents []Intent
	for _, kind := range DefaultPriority {
		if t, ok := want[kind]; ok {
			intents = append(intents, r.Desire(t)...)
		} else {
			intents = append(intents, r.Clear(kind)...)
		}
	}
	return intents
}

func (r *Registry) release(cur *entry) []Intent {
	delete(r.slots, cur.target.Kind)
	var held []wire.Topic
	switch {
	case cur.live():
	case cur.state == Failed:
		// a sibling topic failed; the acked ones are still held by the server
		for _, tp := range cur.target.Topics() {
			if cur.acked[tp] {
				held = append(held, tp)
			}
		}
		if len(held) == 0 {
			return nil
		}
	default:
		return nil
	}
	o := &orphan{target: cur.target, open: make(map[wire.Topic]bool)}
	open := held
	if open == nil {
		open = cur.target.Topics()
	}
	for _, tp := range open {
		o.open[tp] = true
	}
	r.orphans[cur.target] = o
	return []Intent{{Op: OpUnsubscribe, Target: cur.target, Topics: held}}
}

// Commit marks an intent as put on the wire. It returns false when the
// intent is a no-op: a subscribe for a target that is no longer desired or
// already requested/confirmed, or an unsubscribe for a target the server no
// longer holds or that was already sent.
func (r *Registry) Commit(in Intent) bool {
	r.init()
	switch in.Op {
	case OpSubscribe:
		e, ok := r.slots[in.Target.Kind]
		if !ok || e.target != in.Target || e.state != NotRequested {
			return false
		}
		e.state = Requested
		e.attempt++
		e.acked = make(map[wire.Topic]bool)
		return true
	case OpUnsubscribe:
		o, ok := r.orphans[in.Target]
		if !ok || o.sent {
			return false
		}
		if e, ok := r.slots[in.Target.Kind]; ok && e.target == in.Target {
			// desired again before the unsubscribe left
			delete(r.orphans, in.Target)
			return false
		}
		o.sent = true
		return true
	}
	return false
}

// Enqueue appends an intent raised while the connection cannot carry it.
func (r *Registry) Enqueue(in ...Intent) {
	r.queue = append(r.queue, in...)
}

// Pending returns the queued intents in arrival order.
func (r *Registry) Pending() []Intent {
	return append([]Intent(nil), r.queue...)
}

// Flush commits everything the registry wants on the wire once the
// connection is authenticated, and empties the queue. The highest-priority
// requestable target goes first, then queued intents in arrival order, then
// any remaining requestable targets in priority order. Each target appears
// at most once.
func (r *Registry) Flush(priority []Kind) []Intent {
	r.init()
	priority = Ordered(priority)
	var out []Intent
	commit := func(in Intent) {
		if r.Commit(in) {
			out = append(out, in)
		}
	}
	for _, kind := range priority {
		if e, ok := r.slots[kind]; ok && e.state == NotRequested {
			commit(Intent{Op: OpSubscribe, Target: e.target})
			break
		}
	}
	for _, in := range r.queue {
		commit(in)
	}
	r.queue = nil
	for _, kind := range priority {
		if e, ok := r.slots[kind]; ok {
			commit(Intent{Op: OpSubscribe, Target: e.target})
		}
	}
	return out
}

// AckResult describes what a subscribe acknowledgement did.
type AckResult int

const (
	// AckUnknown means no tracked target covers the topic.
	AckUnknown AckResult = iota
	// AckPartial means the target still waits for other topics.
	AckPartial
	// AckConfirmed means the target became confirmed.
	AckConfirmed
	// AckOrphan means the topic belongs to a target being unsubscribed.
	AckOrphan
	// AckIgnored means the target was not waiting for an acknowledgement.
	AckIgnored
)

// Ack records a successful subscribe response for topic.
func (r *Registry) Ack(tp wire.Topic) (Entry, AckResult) {
	r.init()
	if e := r.covering(tp); e != nil {
		if e.state == Failed {
			if e.acked == nil {
				e.acked = make(map[wire.Topic]bool)
			}
			e.acked[tp] = true
		}
		if e.state != Requested {
			return e.view(), AckIgnored
		}
		e.acked[tp] = true
		for _, own := range e.target.Topics() {
			if !e.acked[own] {
				return e.view(), AckPartial
			}
		}
		e.state = Confirmed
		return e.view(), AckConfirmed
	}
	for _, o := range r.orphans {
		if o.target.Covers(tp) {
			return Entry{Target: o.target}, AckOrphan
		}
	}
	return Entry{}, AckUnknown
}

// Fail records a failed subscribe response for topic. It reports whether a
// requested target moved to Failed.
func (r *Registry) Fail(tp wire.Topic) (Entry, bool) {
	r.init()
	if e := r.covering(tp); e != nil && e.state == Requested {
		e.state = Failed
		return e.view(), true
	}
	for key, o := range r.orphans {
		if o.target.Covers(tp) {
			delete(o.open, tp)
			if len(o.open) == 0 {
				delete(r.orphans, key)
			}
		}
	}
	return Entry{}, false
}

// Unsubscribed records an unsubscribe response for topic.
func (r *Registry) Unsubscribed(tp wire.Topic) {
	r.init()
	for key, o := range r.orphans {
		if o.target.Covers(tp) {
			delete(o.open, tp)
			if len(o.open) == 0 {
				delete(r.orphans, key)
			}
		}
	}
}

// Expire fails t if it is still waiting on the given attempt.
func (r *Registry) Expire(t Target, attempt int) (Entry, bool) {
	r.init()
	e, ok := r.slots[t.Kind]
	if !ok || e.target != t || e.state != Requested || e.attempt != attempt {
		return Entry{}, false
	}
	e.state = Failed
	return e.view(), true
}

// Invalidate forgets everything the server held: requested and confirmed
// targets go back to NotRequested and pending unsubscribes are dropped.
// Failed targets stay failed and queued intents are kept.
func (r *Registry) Invalidate() {
	r.init()
	for _, e := range r.slots {
		if e.live() {
			e.state = NotRequested
		}
		e.acked = nil
	}
	r.orphans = make(map[Target]*orphan)
}

// Lookup returns the entry tracking t, if t is desired.
func (r *Registry) Lookup(t Target) (Entry, bool) {
	e, ok := r.slots[t.Kind]
	if !ok || e.target != t {
		return Entry{}, false
	}
	return e.view(), true
}

// Slot returns the desired target of kind.
func (r *Registry) Slot(kind Kind) (Entry, bool) {
	e, ok := r.slots[kind]
	if !ok {
		return Entry{}, false
	}
	return e.view(), true
}

// Entries returns every desired target in priority order.
func (r *Registry) Entries(priority []Kind) []Entry {
	var out []Entry
	for _, kind := range Ordered(priority) {
		if e, ok := r.slots[kind]; ok {
			out = append(out, e.view())
		}
	}
	return out
}

// Unsubscribing reports whether t is awaiting an unsubscribe.
func (r *Registry) Unsubscribing(t Target) bool {
	_, ok := r.orphans[t]
	return ok
}

func (r *Registry) covering(tp wire.Topic) *entry {
	for _, e := range r.slots {
		if e.target.Covers(tp) {
			return e
		}
	}
	return nil
}
