package stream

import "encoding/json"

// Sink receives the routed results of classified events. OnToken and
// OnStructuredData mirror the two callbacks of the stream reader; OnFinal and
// OnTerminal are optional.
type Sink struct {
	OnToken          func(text string)
	OnStructuredData func(data json.RawMessage)
	// OnFinal receives the final answer of an output event. It replaces,
	// rather than extends, the text accumulated so far. When nil, output
	// events are routed by their text like any other event.
	OnFinal func(text string)
	// OnTerminal is called after an error or complete event has been routed.
	OnTerminal func(kind Kind)
}

// Route delivers ev to the sink. Non-empty text reaches OnToken exactly once;
// structured data never becomes text.
func Route(ev Event, sink Sink) {
	switch {
	case ev.Suppressed:
	case ev.Kind == KindStructuredData:
		if sink.OnStructuredData != nil {
			sink.OnStructuredData(ev.Data)
		}
	default:
		if final, ok := ev.FinalAnswer(); ok && sink.OnFinal != nil {
			sink.OnFinal(final)
		} else if ev.Text != "" && sink.OnToken != nil {
			sink.OnToken(ev.Text)
		}
	}
	if ev.Kind.Terminal() && sink.OnTerminal != nil {
		sink.OnTerminal(ev.Kind)
	}
}
