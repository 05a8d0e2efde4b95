package socket

import (
	"encoding/json"
	"sync"

	"github.com/lhdbsbz/analystdesk/internal/store"
	"github.com/lhdbsbz/analystdesk/internal/stream"
)

// Dispatcher applies socket events to an accumulator, tracking the message
// currently being assembled for the turn.
type Dispatcher struct {
	Acc store.Accumulator
	// OnStructuredData receives out-of-band payloads; optional.
	OnStructuredData func(json.RawMessage)
	// OnTurnEnd is called after a complete or error event; optional.
	OnTurnEnd func(kind stream.Kind)

	mu      sync.Mutex
	current string
}

// Current returns the id of the in-progress message, or "".
func (d *Dispatcher) Current() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Reset forgets the in-progress message without sealing it.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	d.current = ""
	d.mu.Unlock()
}

func (d *Dispatcher) ensureLocked() string {
	if d.current == "" {
		d.current = d.Acc.StartAssistantMessage()
	}
	return d.current
}

// Handle applies one event.
func (d *Dispatcher) Handle(ev stream.Event) {
	d.mu.Lock()
	switch ev.Kind {
	case stream.KindToken:
		if !ev.Suppressed && ev.Text != "" {
			d.Acc.AppendAssistantMessage(d.ensureLocked(), ev.Text)
		}
	case stream.KindOutput:
		if final, ok := ev.FinalAnswer(); ok {
			d.Acc.UpdateAssistantMessage(d.ensureLocked(), final)
		}
	case stream.KindComplete:
		d.finishLocked()
	case stream.KindError:
		if d.current != "" {
			d.Acc.AppendAssistantMessage(d.current, ev.Text)
		}
		d.finishLocked()
	case stream.KindStructuredData:
		if fn := d.OnStructuredData; fn != nil {
			d.mu.Unlock()
			fn(ev.Data)
			return
		}
	}
	d.mu.Unlock()

	if ev.Kind.Terminal() && d.OnTurnEnd != nil {
		d.OnTurnEnd(ev.Kind)
	}
}

func (d *Dispatcher) finishLocked() {
	if d.current != "" {
		d.Acc.SealAssistantMessage(d.current)
		d.current = ""
	}
}
