package alert

import (
	"time"
	"unicode/utf8"

	"github.com/fpt/nexus-guard/internal/store"
)

// SummaryBudget is the maximum number of characters of message content
// carried by an alert.
const SummaryBudget = 500

// Alert describes one malicious message for the notification sinks.
type Alert struct {
	MessageID     uint64    `json:"message_id"`
	Source        string    `json:"source"`
	Kind          string    `json:"kind"`
	SenderName    string    `json:"sender_name"`
	SenderAddress string    `json:"sender_address,omitempty"`
	Summary       string    `json:"summary"`
	Spoofed       bool      `json:"spoofed,omitempty"`
	Confidence    *float64  `json:"confidence,omitempty"`
	DetectedAt    time.Time `json:"detected_at"`
}

// FromMessage builds the alert for a completed message. Spoofed is only ever
// set for audio and video.
func FromMessage(m store.Message, now time.Time) Alert {
	return Alert{
		MessageID:     m.ID,
		Source:        m.Source.String(),
		Kind:          m.Kind.String(),
		SenderName:    m.SenderName,
		SenderAddress: m.SenderAddress,
		Summary:       Truncate(m.Content, SummaryBudget),
		Spoofed:       m.Kind.SupportsSpoof() && m.SpoofVerdict == store.SpoofSpoofed,
		Confidence:    m.Confidence,
		DetectedAt:    now,
	}
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
