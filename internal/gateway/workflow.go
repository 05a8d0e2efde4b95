package gateway

import (
	"fmt"
	"strings"

	"github.com/lhdbsbz/analystdesk/internal/stream"
	"github.com/lhdbsbz/analystdesk/internal/turn"
)

// Workflow produces the events answering one turn.
type Workflow func(req turn.OutboundTurn) []Step

const routerNode = "router"

// EchoWorkflow answers every turn by echoing it back, exercising each event
// kind a real workflow emits. Asking about companies adds a structured_data
// event; a message containing "fail" ends the turn with an error.
func EchoWorkflow(primaryNode string) Workflow {
	if primaryNode == "" {
		primaryNode = stream.DefaultPrimaryNode
	}
	return func(req turn.OutboundTurn) []Step {
		steps := []Step{
			{Type: stream.TypeUpdate, Data: map[string]any{"status": "started", "thread_id": req.ThreadID}},
			{Type: stream.TypeToken, Node: routerNode, Text: "routing to " + primaryNode},
		}

		lower := strings.ToLower(req.Message)
		if strings.Contains(lower, "fail") {
			return append(steps, Step{Type: stream.TypeError, Text: "workflow failed while handling the request"})
		}

		reply := echoReply(req)
		for _, tok := range strings.SplitAfter(reply, " ") {
			steps = append(steps, Step{Type: stream.TypeToken, Node: primaryNode, Text: tok})
		}

		if strings.Contains(lower, "compan") {
			steps = append(steps, Step{Type: stream.TypeStructuredData, Data: map[string]any{
				"type": "company_list",
				"companies": []map[string]string{
					{"name": "Acme Corp", "ticker": "ACME"},
					{"name": "Globex", "ticker": "GBX"},
				},
			}})
		}

		steps = append(steps,
			Step{Type: stream.TypeOutput, Node: primaryNode, Data: outputData{Messages: []outputMessage{
				{Role: "user", Content: req.Message},
				{Role: "assistant", Content: reply},
			}}},
			Step{Type: stream.TypeComplete},
		)
		return steps
	}
}

func echoReply(req turn.OutboundTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You said: %s", req.Message)
	if n := len(req.Documents); n > 0 {
		fmt.Fprintf(&b, " (with %d document", n)
		if n > 1 {
			b.WriteString("s")
		}
		b.WriteString(")")
	}
	var tools []string
	if req.EnableWebsearch {
		tools = append(tools, "websearch")
	}
	if req.EnableRetrieval {
		tools = append(tools, "retrieval")
	}
	if len(tools) > 0 {
		fmt.Fprintf(&b, " using %s", strings.Join(tools, " and "))
	}
	return b.String()
}
