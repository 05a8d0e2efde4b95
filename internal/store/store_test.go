package store

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func content(t *testing.T, s *Store, id string) string {
	t.Helper()
	msg, ok := s.Message(id)
	require.True(t, ok)
	return msg.Content
}

func TestAccumulator_AppendThenReplace(t *testing.T) {
	s := New("conv")
	id := s.StartAssistantMessage()
	for _, d := range []string{"A", "B", "C"} {
		s.AppendAssistantMessage(id, d)
	}
	require.Equal(t, "ABC", content(t, s, id))

	s.UpdateAssistantMessage(id, "Final")
	require.Equal(t, "Final", content(t, s, id))
}

func TestAccumulator_EmptyAppendIsNoop(t *testing.T) {
	s := New("conv")
	id := s.StartAssistantMessage()
	s.AppendAssistantMessage(id, "x")

	var changes int
	s.Subscribe(func(Change) { changes++ })
	s.AppendAssistantMessage(id, "")
	require.Equal(t, "x", content(t, s, id))
	require.Zero(t, changes)
}

func TestAccumulator_UnknownIDIgnored(t *testing.T) {
	s := New("conv")
	require.NotPanics(t, func() {
		s.AppendAssistantMessage("missing", "x")
		s.UpdateAssistantMessage("missing", "x")
		s.SealAssistantMessage("missing")
	})
	require.Empty(t, s.Messages())
}

func TestAccumulator_SealedRejectsMutation(t *testing.T) {
	s := New("conv")
	id := s.StartAssistantMessage()
	s.AppendAssistantMessage(id, "done")
	s.SealAssistantMessage(id)
	s.AppendAssistantMessage(id, " more")
	s.UpdateAssistantMessage(id, "replaced")

	msg, ok := s.Message(id)
	require.True(t, ok)
	assert.True(t, msg.Sealed)
	assert.Equal(t, "done", msg.Content)
}

func TestAccumulator_OrderIsStable(t *testing.T) {
	s := New("conv")
	u := s.AddUserMessage("question")
	a1 := s.StartAssistantMessage()
	a2 := s.StartAssistantMessage()
	s.AppendAssistantMessage(a1, "late")
	e := s.AddAssistantMessage("[error] x")

	msgs := s.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, []string{u, a1, a2, e}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID, msgs[3].ID})
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.True(t, msgs[3].Sealed)
}

func TestSubscribe_ReceivesChangesInOrder(t *testing.T) {
	s := New("conv")
	var got []ChangeType
	var deltas []string
	unsubscribe := s.Subscribe(func(c Change) {
		got = append(got, c.Type)
		if c.Type == ChangeMessageAppended {
			deltas = append(deltas, c.Delta)
		}
	})
	id := s.StartAssistantMessage()
	s.AppendAssistantMessage(id, "Hel")
	s.AppendAssistantMessage(id, "lo")
	s.UpdateAssistantMessage(id, "Hello!")
	s.SealAssistantMessage(id)
	s.AddStructuredData(json.RawMessage(`{"companies":[]}`))
	unsubscribe()
	s.AddUserMessage("ignored")

	require.Equal(t, []ChangeType{
		ChangeMessageAdded,
		ChangeMessageAppended,
		ChangeMessageAppended,
		ChangeMessageReplaced,
		ChangeMessageSealed,
		ChangeStructuredData,
	}, got)
	require.Equal(t, []string{"Hel", "lo"}, deltas)
	require.Len(t, s.StructuredData(), 1)
}

func TestAccumulator_ConcurrentAppends(t *testing.T) {
	s := New("conv")
	id := s.StartAssistantMessage()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AppendAssistantMessage(id, "x")
		}()
	}
	wg.Wait()
	require.Len(t, content(t, s, id), 50)
}

func TestAttachments_Lifecycle(t *testing.T) {
	s := New("conv")
	pending := s.AddAttachment(Attachment{Kind: KindFile, Title: "report.pdf"})
	note := s.AddAttachment(Attachment{Kind: KindNote, Title: "memo", Content: "# memo"})

	atts := s.Attachments()
	require.Len(t, atts, 2)
	assert.Equal(t, StatusProcessing, atts[0].Status)
	assert.Equal(t, StatusReady, atts[1].Status)

	s.CompleteAttachment(pending, "extracted")
	atts = s.Attachments()
	assert.Equal(t, StatusReady, atts[0].Status)
	assert.Equal(t, "extracted", atts[0].Content)

	s.FailAttachment(note, errors.New("bad format"))
	atts = s.Attachments()
	assert.Equal(t, StatusFailed, atts[1].Status)
	assert.Equal(t, "bad format", atts[1].Error)

	s.ClearAttachments(pending, note)
	require.Empty(t, s.Attachments())
}

func TestSubscribe_ConcurrentMutatorsDeliverInOrder(t *testing.T) {
	s := New("conv")
	id := s.StartAssistantMessage()

	var seen string
	var outOfOrder int
	s.Subscribe(func(c Change) {
		if c.Type != ChangeMessageAppended {
			return
		}
		if c.Message.Content != seen+c.Delta {
			outOfOrder++
		}
		seen = c.Message.Content
	})

	var wg sync.WaitGroup
	for _, delta := range []string{"a", "b", "c", "d"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				s.AppendAssistantMessage(id, delta)
			}
		}()
	}
	wg.Wait()

	msg, ok := s.Message(id)
	require.True(t, ok)
	assert.Zero(t, outOfOrder)
	assert.Equal(t, msg.Content, seen)
	assert.Len(t, seen, 800)
}
