package event

import "sync"

// Property identifies an observable field whose value changed.
type Property int

const (
	Status Property = iota + 1
	Length
	Position
	Percent
	BitsPerSecond
	MaxBandwidth
	FailedException
	LastModification
	Exception
	ReadLimit
	WriteLimit
)

var propertyNames = [...]string{
	Status:           "Status",
	Length:           "Length",
	Position:         "Position",
	Percent:          "Percent",
	BitsPerSecond:    "BitsPerSecond",
	MaxBandwidth:     "MaxBandwidth",
	FailedException:  "FailedException",
	LastModification: "LastModification",
	Exception:        "Exception",
	ReadLimit:        "ReadLimit",
	WriteLimit:       "WriteLimit",
}

func (p Property) String() string {
	if p > 0 && int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return "Unknown"
}

// Change is a single property-change notification. Value carries the new
// value; a nil Value means the property became unknown.
type Change struct {
	Property Property
	Value    any
}

// Handler receives changes synchronously on the publishing goroutine.
type Handler func(Change)

// Notifier fans a change out to every subscribed handler. The zero value is
// ready to use.
type Notifier struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
	order    []int
}

// Subscribe registers h and returns a func that removes it again.
func (n *Notifier) Subscribe(h Handler) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.handlers == nil {
		n.handlers = make(map[int]Handler)
	}
	id := n.nextID
	n.nextID++
	n.handlers[id] = h
	n.order = append(n.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { n.remove(id) })
	}
}

func (n *Notifier) remove(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
	for i, v := range n.order {
		if v == id {
			n.order = append(n.order[:i:i], n.order[i+1:]...)
			break
		}
	}
}

// Notify delivers c to all handlers in subscription order. The handler list
// is snapshotted first so handlers may subscribe or unsubscribe re-entrantly.
func (n *Notifier) Notify(c Change) {
	n.mu.Lock()
	hs := make([]Handler, 0, len(n.order))
	for _, id := range n.order {
		hs = append(hs, n.handlers[id])
	}
	n.mu.Unlock()

	for _, h := range hs {
		h(c)
	}
}

// Len returns the number of subscribed handlers.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.order)
}
