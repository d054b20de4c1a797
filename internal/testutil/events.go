package testutil

import (
	"fmt"
	"sync"
)

// Event is one recorded step of a fake member or session.
type Event struct {
	Seq    int64
	Source string
	Name   string
}

func (e Event) String() string {
	return fmt.Sprintf("%d:%s:%s", e.Seq, e.Source, e.Name)
}

// EventLog stamps events with a monotonic sequence number so tests can
// assert on the order in which fakes were dispatched, read and closed.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type EventLog struct {
	mu     sync.Mutex
	seq    int64
	events []Event
}

// NewEventLog returns an empty log. The first recorded event gets Seq 1.
func NewEventLog() *EventLog {
	return &EventLog{}
}

// Record appends an event and returns its sequence number.
func (l *EventLog) Record(source, name string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	l.events = append(l.events, Event{Seq: l.seq, Source: source, Name: name})
	return l.seq
}

// Events returns a copy of the recorded events in order.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

// Count returns how many times source recorded name.
func (l *EventLog) Count(source, name string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Source == source && e.Name == name {
			n++
		}
	}
	return n
}

// Strings renders the events as "source:name", without sequence numbers.
func (l *EventLog) Strings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.events))
	for i, e := range l.events {
		out[i] = e.Source + ":" + e.Name
	}
	return out
}

// Reset clears the log. The next event gets Seq 1 again.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq = 0
	l.events = nil
}
