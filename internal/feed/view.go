package feed

import (
	"time"

	"github.com/fpt/nexus-guard/internal/store"
)

// MessageView is the JSON form of a stored message. Unset optional fields
// are omitted.
type MessageView struct {
	ID              uint64    `json:"id"`
	Source          string    `json:"source"`
	SenderName      string    `json:"sender_name"`
	SenderAddress   string    `json:"sender_address,omitempty"`
	Kind            string    `json:"kind"`
	Content         string    `json:"content"`
	State           string    `json:"state"`
	Verdict         string    `json:"verdict,omitempty"`
	Confidence      *float64  `json:"confidence,omitempty"`
	SpoofVerdict    string    `json:"spoof_verdict,omitempty"`
	SpoofConfidence *float64  `json:"spoof_confidence,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Document is what the feed endpoints return.
type Document struct {
	Messages       []MessageView `json:"messages"`
	Stats          store.Stats   `json:"stats"`
	ActiveChannels []string      `json:"active_channels"`
	GeneratedAt    time.Time     `json:"generated_at"`
}

func viewOf(m store.Message) MessageView {
	return MessageView{
		ID:              m.ID,
		Source:          m.Source.String(),
		SenderName:      m.SenderName,
		SenderAddress:   m.SenderAddress,
		Kind:            m.Kind.String(),
		Content:         m.Content,
		State:           m.State.String(),
		Verdict:         m.Verdict.String(),
		Confidence:      m.Confidence,
		SpoofVerdict:    m.SpoofVerdict.String(),
		SpoofConfidence: m.SpoofConfidence,
		CreatedAt:       m.CreatedAt,
	}
}

// activeChannels lists sources that have delivered at least one message,
// in a fixed order.
func activeChannels(st store.Stats) []string {
	out := []string{}
	for _, src := range []store.Source{store.SourceChatBot, store.SourceGuildBot, store.SourceMailbox} {
		if st.BySource[src.String()] > 0 {
			out = append(out, src.String())
		}
	}
	return out
}
