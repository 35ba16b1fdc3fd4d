package logger

// Intention tags what a log line is about, independent of its level. The
// console handler turns it into an icon; file logs keep it as an attribute.
type Intention string

const (
	IntentionIngest  Intention = "ingest"
	IntentionTriage  Intention = "triage"
	IntentionAlert   Intention = "alert"
	IntentionStatus  Intention = "status"
	IntentionSuccess Intention = "success"
	IntentionConfig  Intention = "config"
	IntentionCancel  Intention = "cancel"
)

func iconFor(i Intention) string {
	switch i {
	case IntentionIngest:
		return "📥"
	case IntentionTriage:
		return "🔎"
	case IntentionAlert:
		return "🚨"
	case IntentionStatus:
		return "📊"
	case IntentionSuccess:
		return "✅"
	case IntentionConfig:
		return "⚙️"
	case IntentionCancel:
		return "🛑"
	default:
		return "➤"
	}
}
