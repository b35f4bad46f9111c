// Package progress defines the structured events emitted by long running
// plugin operations and the observer that receives them.
package progress

import (
	"sync"
)

// Type classifies an Event.
type Type string

const (
	TypeInfo    Type = "info"
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// Event is a single progress notification.
// Data carries operation specific payload, such as the installed plugin
// folder or the list of installed plugins.
type Event struct {
	Type    Type   `json:"type"`
	Message string `json:"message"`
	// Plugin names the plugin the event belongs to when several plugins
	// are processed by one run.
	Plugin string `json:"plugin,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Observer receives progress events. Implementations must be safe for
// concurrent use when plugins are installed in parallel.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a plain function to an Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) {
	f(e)
}

// ForPlugin returns an Observer that stamps every event with the plugin name
// before passing it on to o.
func ForPlugin(o Observer, plugin string) Observer {
	if o == nil {
		return Discard
	}
	return ObserverFunc(func(e Event) {
		e.Plugin = plugin
		o.Observe(e)
	})
}

// Discard drops every event.
var Discard Observer = ObserverFunc(func(Event) {})

// Info emits an info event to o. A nil Observer is ignored.
func Info(o Observer, msg string, data ...any) {
	emit(o, TypeInfo, msg, data)
}

// Success emits a success event to o. A nil Observer is ignored.
func Success(o Observer, msg string, data ...any) {
	emit(o, TypeSuccess, msg, data)
}

// Error emits an error event carrying err's message. A nil Observer is ignored.
func Error(o Observer, err error, data ...any) {
	emit(o, TypeError, err.Error(), data)
}

func emit(o Observer, t Type, msg string, data []any) {
	if o == nil {
		return
	}
	e := Event{Type: t, Message: msg}
	if len(data) > 0 {
		e.Data = data[0]
	}
	o.Observe(e)
}

// Recorder is an Observer that collects every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the events recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Messages returns the messages of the recorded events in order.
func (r *Recorder) Messages() []string {
	events := r.Events()
	msgs := make([]string, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, e.Message)
	}
	return msgs
}
