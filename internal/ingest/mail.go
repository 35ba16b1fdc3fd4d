package ingest

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/fpt/nexus-guard/internal/store"
)

// Attachment is one file part of a mail message.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SkippedPart is a mail part that yields no message.
type SkippedPart struct {
	Filename string
	Reason   string
}

// ParsedMail is the subset of an RFC 5322 message the mailbox adapter uses.
// HasAttachments is set for any attachment part, including ones that could
// not be kept.
type ParsedMail struct {
	FromName       string
	FromAddress    string
	Subject        string
	Body           string
	Attachments    []Attachment
	HasAttachments bool
	Skipped        []SkippedPart
}

// Draft is a message ready to be staged and appended.
type Draft struct {
	Kind     store.Kind
	Content  string
	Filename string
	Data     []byte
}

// ParseMail reads a raw message. Undecodable parts are recorded in Skipped;
// only a broken top-level header fails the whole message.
func ParseMail(r io.Reader) (*ParsedMail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && mr == nil {
		return nil, errors.Wrap(err, "failed to read mail header")
	}
	defer mr.Close()

	pm := &ParsedMail{}
	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		pm.FromName = addrs[0].Name
		pm.FromAddress = addrs[0].Address
	}
	if subject, err := mr.Header.Subject(); err == nil {
		pm.Subject = strings.TrimSpace(subject)
	}
	if pm.Subject == "" {
		pm.Subject = "(no subject)"
	}

	var plain, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				pm.Skipped = append(pm.Skipped, SkippedPart{Reason: "unknown_encoding"})
				continue
			}
			pm.Skipped = append(pm.Skipped, SkippedPart{Reason: "malformed_part"})
			break
		}

		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			pm.HasAttachments = true
			filename, _ := h.Filename()
			if filename == "" {
				filename = "attachment_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			}
			ct, _, _ := h.ContentType()
			data, err := io.ReadAll(io.LimitReader(p.Body, MaxPayloadBytes+1))
			switch {
			case err != nil:
				pm.Skipped = append(pm.Skipped, SkippedPart{Filename: filename, Reason: "read_failed"})
				continue
			case len(data) == 0:
				pm.Skipped = append(pm.Skipped, SkippedPart{Filename: filename, Reason: "empty"})
				continue
			case len(data) > MaxPayloadBytes:
				pm.Skipped = append(pm.Skipped, SkippedPart{Filename: filename, Reason: "too_large"})
				continue
			}
			pm.Attachments = append(pm.Attachments, Attachment{Filename: filename, ContentType: ct, Data: data})
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			switch ct {
			case "text/plain":
				if plain != "" {
					continue
				}
				b, err := io.ReadAll(p.Body)
				if err == nil {
					plain = strings.TrimSpace(string(b))
				}
			case "text/html":
				if html != "" {
					continue
				}
				b, err := io.ReadAll(p.Body)
				if err == nil {
					html = string(b)
				}
			}
		}
	}

	pm.Body = plain
	if pm.Body == "" && html != "" {
		pm.Body = htmlToText(html)
	}
	return pm, nil
}

// SenderName is the display name, the address, or "Unknown".
func (pm *ParsedMail) SenderName() string {
	return SenderName(pm.FromName, pm.FromAddress)
}

// Drafts turns the mail into messages: one per supported attachment when
// the mail has attachment parts, otherwise one Email message from subject and
// body. A mail whose attachments all fail yields no message. Every part that
// yields nothing is returned in skipped.
func (pm *ParsedMail) Drafts() (drafts []Draft, skipped []SkippedPart) {
	skipped = append(skipped, pm.Skipped...)
	if !pm.HasAttachments {
		return []Draft{{
			Kind:    store.KindEmail,
			Content: fmt.Sprintf("Subject: %s\n\nBody: %s", pm.Subject, pm.Body),
		}}, skipped
	}

	sender := pm.SenderName()
	for _, a := range pm.Attachments {
		kind, ok := DetectKind(a.Filename, a.ContentType)
		if !ok {
			skipped = append(skipped, SkippedPart{Filename: a.Filename, Reason: "unsupported"})
			continue
		}
		drafts = append(drafts, Draft{
			Kind:     kind,
			Content:  Caption(kind, a.Filename, sender),
			Filename: a.Filename,
			Data:     a.Data,
		})
	}
	return drafts, skipped
}

func htmlToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader([]byte(html)))
	if err != nil {
		return strings.TrimSpace(html)
	}
	doc.Find("script, style, head").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
