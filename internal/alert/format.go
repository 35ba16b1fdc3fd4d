package alert

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

const timeLayout = "2006-01-02 15:04:05"

func spoofLine(a Alert) string {
	if !a.Spoofed {
		return ""
	}
	return fmt.Sprintf("🎭 SPOOFED %s DETECTED!", strings.ToUpper(a.Kind))
}

func confidenceLine(a Alert) string {
	if a.Confidence == nil {
		return ""
	}
	return fmt.Sprintf("📈 Confidence: %.0f%%", *a.Confidence*100)
}

// PlainText renders the alert for chat-bot direct messages.
func PlainText(a Alert) string {
	var sb strings.Builder
	sb.WriteString("▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀▀\n")
	sb.WriteString("█ 🚨🚨🚨 SCAM ALERT 🚨🚨🚨 █\n")
	sb.WriteString("▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄▄\n\n")
	sb.WriteString("⚠️  FRAUD DETECTED  ⚠️\n\n")
	fmt.Fprintf(&sb, "🌐 Source: %s\n\n", a.Source)
	fmt.Fprintf(&sb, "📧 Account Name: %s\n\n", a.SenderName)
	fmt.Fprintf(&sb, "🕒 Timestamp: %s\n\n", a.DetectedAt.Format(timeLayout))
	sb.WriteString("💬 Suspicious Message:\n")
	fmt.Fprintf(&sb, "【 %s 】\n", a.Summary)
	sb.WriteString("☝️ POTENTIAL SCAM CONTENT\n")
	if l := confidenceLine(a); l != "" {
		sb.WriteString(l + "\n")
	}
	if l := spoofLine(a); l != "" {
		sb.WriteString(l + "\n")
	}
	sb.WriteString("\n🛑 DO NOT ENGAGE - REPORT IMMEDIATELY\n")
	sb.WriteString("✅ Verify through official channels only")
	return sb.String()
}

// Markdown renders the alert for a guild channel.
func Markdown(a Alert) string {
	var sb strings.Builder
	sb.WriteString("```diff\n")
	sb.WriteString("████████████████████████████████\n")
	sb.WriteString("█ 🚨🚨🚨  SCAM ALERT  🚨🚨🚨 █\n")
	sb.WriteString("████████████████████████████████\n")
	sb.WriteString("```\n")
	sb.WriteString("**⚠️ FRAUD DETECTED ⚠️**\n\n")
	fmt.Fprintf(&sb, "🌐 Source: %s\n\n", a.Source)
	fmt.Fprintf(&sb, "📧 Account Name: %s\n\n", a.SenderName)
	fmt.Fprintf(&sb, "**🕒 Timestamp:** `%s`\n\n", a.DetectedAt.Format(timeLayout))
	sb.WriteString("**💬 Suspicious Message:**\n")
	for _, line := range strings.Split(a.Summary, "\n") {
		sb.WriteString("> " + line + "\n")
	}
	sb.WriteString("\n☝️ **Potential Scam Content**\n")
	if l := confidenceLine(a); l != "" {
		sb.WriteString(l + "\n")
	}
	if l := spoofLine(a); l != "" {
		sb.WriteString("**" + l + "**\n")
	}
	sb.WriteString("🛑 **DO NOT ENGAGE - REPORT IMMEDIATELY**\n")
	sb.WriteString("✅ **Verify through official channels only**")
	return sb.String()
}

// DesktopTitle is the title of the local toast.
const DesktopTitle = "🚨 Scam Alert 🚨"

// DesktopBody renders the toast text; the summary is cut to 100 characters.
func DesktopBody(a Alert) string {
	body := fmt.Sprintf("Source: %s\nSender: %s\nSubject: %s", a.Source, a.SenderName, Truncate(a.Summary, 100))
	if l := spoofLine(a); l != "" {
		body += "\n" + l
	}
	return body
}

// EmailSubject is the outbound alert email subject.
func EmailSubject(a Alert) string {
	return fmt.Sprintf("🚨 Scam Alert - Suspicious message from %s", a.SenderName)
}

var emailTmpl = template.Must(template.New("alert").Parse(`<html><body style="font-family: Arial, sans-serif; background-color: #0b0f17; padding: 20px;">
  <div style="max-width: 600px; margin: auto; background: #121826; padding: 20px; border-radius: 10px; border: 1px solid #1f2a44; color:#e5e7eb;">
    <h2 style="color: #ef4444; text-align: center;">🚨 SCAM ALERT DETECTED 🚨</h2>
    <p>We detected a suspicious message that may be a <strong>scam attempt</strong>. Details below:</p>
    <table style="width:100%; border-collapse: collapse; margin-top: 12px;">
      <tr><td style="padding:8px;border:1px solid #1f2a44;">Source</td><td style="padding:8px;border:1px solid #1f2a44;">{{.Source}}</td></tr>
      <tr><td style="padding:8px;border:1px solid #1f2a44;">Sender Name</td><td style="padding:8px;border:1px solid #1f2a44;">{{.SenderName}}</td></tr>
      <tr><td style="padding:8px;border:1px solid #1f2a44;">Sender Email</td><td style="padding:8px;border:1px solid #1f2a44;">{{.SenderAddress}}</td></tr>
      <tr><td style="padding:8px;border:1px solid #1f2a44;">Subject</td><td style="padding:8px;border:1px solid #1f2a44;">{{.Title}}</td></tr>
      <tr><td style="padding:8px;border:1px solid #1f2a44;">Detected</td><td style="padding:8px;border:1px solid #1f2a44;">{{.Detected}}</td></tr>
    </table>
    {{if .Spoof}}<p style="margin-top: 12px; color: #ef4444;">{{.Spoof}}</p>{{end}}
    <p style="margin-top: 12px; color: #f59e0b;">⚠ Do not click links or open attachments. Verify via trusted channels.</p>
  </div>
</body></html>`))

// EmailHTML renders the alert email body. Values are HTML-escaped.
func EmailHTML(a Alert) (string, error) {
	address := a.SenderAddress
	if address == "" {
		address = "[N/A]"
	}
	var buf bytes.Buffer
	err := emailTmpl.Execute(&buf, struct {
		Source, SenderName, SenderAddress, Title, Detected, Spoof string
	}{
		Source:        a.Source,
		SenderName:    a.SenderName,
		SenderAddress: address,
		Title:         Truncate(a.Summary, 50),
		Detected:      a.DetectedAt.Format(timeLayout),
		Spoof:         spoofLine(a),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
