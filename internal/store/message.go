package store

import "time"

// Source identifies the inbound channel a message arrived on.
type Source int

const (
	SourceChatBot Source = iota + 1
	SourceGuildBot
	SourceMailbox
)

func (s Source) String() string {
	switch s {
	case SourceChatBot:
		return "telegram"
	case SourceGuildBot:
		return "discord"
	case SourceMailbox:
		return "mailbox"
	default:
		return "unknown"
	}
}

// Kind is the media kind of a message. It decides which classification
// endpoint receives it.
type Kind int

const (
	KindText Kind = iota + 1
	KindAudio
	KindPhoto
	KindVideo
	KindEmail
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindPhoto:
		return "photo"
	case KindVideo:
		return "video"
	case KindEmail:
		return "email"
	default:
		return "unknown"
	}
}

// IsMedia reports whether the kind is classified from a staged payload.
func (k Kind) IsMedia() bool {
	return k == KindAudio || k == KindPhoto || k == KindVideo
}

// SupportsSpoof reports whether the kind carries a spoof verdict.
func (k Kind) SupportsSpoof() bool {
	return k == KindAudio || k == KindVideo
}

// State is the triage state of a message.
type State int

const (
	StatePending State = iota
	StateProcessing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProcessing:
		return "processing"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Verdict is the primary classification outcome. VerdictUnknown means unset.
type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictSafe
	VerdictMalicious
)

func (v Verdict) String() string {
	switch v {
	case VerdictSafe:
		return "safe"
	case VerdictMalicious:
		return "malicious"
	default:
		return ""
	}
}

// SpoofVerdict is the authenticity outcome for audio and video. SpoofUnknown means unset.
type SpoofVerdict int

const (
	SpoofUnknown SpoofVerdict = iota
	SpoofAuthentic
	SpoofSpoofed
)

func (v SpoofVerdict) String() string {
	switch v {
	case SpoofAuthentic:
		return "authentic"
	case SpoofSpoofed:
		return "spoofed"
	default:
		return ""
	}
}

// Message is one ingested unit of content. Values returned by the Store are
// copies; mutating them has no effect on the stored record.
type Message struct {
	ID            uint64
	Source        Source
	SenderName    string
	SenderAddress string
	Kind          Kind
	Content       string
	PayloadRef    string

	State           State
	Verdict         Verdict
	Confidence      *float64
	SpoofVerdict    SpoofVerdict
	SpoofConfidence *float64

	CreatedAt time.Time
}

// Result carries the fields written once on the Processing -> Completed transition.
type Result struct {
	Verdict         Verdict
	Confidence      *float64
	SpoofVerdict    SpoofVerdict
	SpoofConfidence *float64
}

func (m Message) clone() Message {
	c := m
	if m.Confidence != nil {
		v := *m.Confidence
		c.Confidence = &v
	}
	if m.SpoofConfidence != nil {
		v := *m.SpoofConfidence
		c.SpoofConfidence = &v
	}
	return c
}

// Float returns a pointer to v, for optional confidence fields.
func Float(v float64) *float64 {
	return &v
}
