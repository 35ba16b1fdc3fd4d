package gateway

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/fpt/nexus-guard/internal/ingest"
	"github.com/fpt/nexus-guard/internal/metrics"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

// RawMail is one fetched RFC 5322 message. Err is set when this UID came
// back without a readable body.
type RawMail struct {
	UID  uint32
	Body []byte
	Err  error
}

// MailboxSession is a logged-in mailbox with the folder selected.
type MailboxSession interface {
	SearchUnseen() ([]uint32, error)
	// Fetch returns one RawMail per UID the server answered; a failed UID
	// carries Err instead of failing the batch.
	Fetch(uids []uint32) ([]RawMail, error)
	Logout() error
}

// MailboxDialer opens a new session for one poll.
type MailboxDialer func(ctx context.Context) (MailboxSession, error)

// MailboxAdapter polls a mailbox for unseen mail. Every fetched UID is
// remembered for the life of the process so a message is ingested at most
// once, even if the server keeps reporting it as unseen.
type MailboxAdapter struct {
	dial        MailboxDialer
	interval    time.Duration
	maxFailures int
	ledger      *ingest.Ledger[uint32]
	inbox       *inbox
	logger      *pkgLogger.Logger
}

// NewMailboxAdapter creates the adapter. The ledger is owned by the polling
// goroutine.
func NewMailboxAdapter(dial MailboxDialer, cfg EmailConfig, st *store.Store, stager *ingest.Stager, logger *pkgLogger.Logger) *MailboxAdapter {
	log := logger.WithComponent("mailbox")
	return &MailboxAdapter{
		dial:        dial,
		interval:    duration(cfg.PollInterval, 5*time.Second),
		maxFailures: cfg.MaxPollFailures,
		ledger:      ingest.NewLedger[uint32](),
		inbox:       newInbox(store.SourceMailbox, st, stager, log),
		logger:      log,
	}
}

func (a *MailboxAdapter) Name() string { return "mailbox" }

// Start polls until ctx is cancelled. A failed poll is retried on the next
// tick; after maxFailures consecutive failures (0 = never) the adapter gives up.
func (a *MailboxAdapter) Start(ctx context.Context) error {
	a.logger.Info("Mailbox polling started", "interval", a.interval)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if err := a.poll(ctx); err != nil {
			failures++
			metrics.MailboxPolls.WithLabelValues("error").Inc()
			a.logger.Warn("Mailbox poll failed", "error", err, "consecutive", failures)
			if a.maxFailures > 0 && failures >= a.maxFailures {
				return errors.Wrapf(err, "mailbox unreachable after %d polls", failures)
			}
		} else {
			failures = 0
			metrics.MailboxPolls.WithLabelValues("ok").Inc()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (a *MailboxAdapter) Stop() error { return nil }

func (a *MailboxAdapter) poll(ctx context.Context) error {
	sess, err := a.dial(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to open mailbox")
	}
	defer func() {
		if err := sess.Logout(); err != nil {
			a.logger.Debug("Mailbox logout failed", "error", err)
		}
	}()

	uids, err := sess.SearchUnseen()
	if err != nil {
		return errors.Wrap(err, "failed to search unseen mail")
	}
	fresh := a.ledger.Filter(uids)
	if len(fresh) == 0 {
		return nil
	}

	mails, err := sess.Fetch(fresh)
	if err != nil {
		return errors.Wrapf(err, "failed to fetch %d messages", len(fresh))
	}
	answered := make(map[uint32]bool, len(mails))
	for _, m := range mails {
		answered[m.UID] = true
		a.ingestMail(m)
	}
	for _, uid := range fresh {
		if !answered[uid] {
			a.inbox.skip("not_returned", "uid", uid)
		}
		a.ledger.Mark(uid)
	}
	return nil
}

func (a *MailboxAdapter) ingestMail(raw RawMail) {
	if raw.Err != nil {
		a.inbox.skip("fetch_failed", "uid", raw.UID, "error", raw.Err)
		return
	}
	pm, err := ingest.ParseMail(bytes.NewReader(raw.Body))
	if err != nil {
		a.inbox.skip("parse_failed", "uid", raw.UID, "error", err)
		return
	}

	drafts, skipped := pm.Drafts()
	for _, part := range skipped {
		a.inbox.skip(part.Reason, "uid", raw.UID, "filename", part.Filename)
	}

	sender := pm.SenderName()
	for _, d := range drafts {
		if d.Kind == store.KindEmail {
			a.inbox.appendMessage(store.Message{
				SenderName:    sender,
				SenderAddress: pm.FromAddress,
				Kind:          store.KindEmail,
				Content:       d.Content,
			})
			continue
		}
		_, _ = a.inbox.mediaFromReader(d.Kind, sender, pm.FromAddress, d.Filename, bytes.NewReader(d.Data))
	}
}

// DialIMAP returns a dialer that logs in over implicit TLS and selects the
// configured folder.
func DialIMAP(cfg EmailConfig) MailboxDialer {
	folder := cfg.Mailbox
	if folder == "" {
		folder = "INBOX"
	}
	addr := net.JoinHostPort(cfg.IMAPHost, strconv.Itoa(cfg.IMAPPort))

	return func(ctx context.Context) (MailboxSession, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := client.DialWithDialerTLS(&net.Dialer{Timeout: 30 * time.Second}, addr, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to dial %s", addr)
		}
		c.Timeout = time.Minute

		if err := c.Login(cfg.Address, cfg.Password); err != nil {
			_ = c.Logout()
			return nil, errors.Wrap(err, "imap login failed")
		}
		if _, err := c.Select(folder, false); err != nil {
			_ = c.Logout()
			return nil, errors.Wrapf(err, "failed to select %s", folder)
		}
		return &imapSession{c: c}, nil
	}
}

type imapSession struct {
	c *client.Client
}

func (s *imapSession) SearchUnseen() ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	return s.c.UidSearch(criteria)
}

func (s *imapSession) Fetch(uids []uint32) ([]RawMail, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchUid, section.FetchItem()}

	ch := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() { done <- s.c.UidFetch(seqset, items, ch) }()

	var out []RawMail
	for msg := range ch {
		r := msg.GetBody(section)
		if r == nil {
			out = append(out, RawMail{UID: msg.Uid, Err: errors.New("no body section in response")})
			continue
		}
		body, err := io.ReadAll(r)
		if err != nil {
			out = append(out, RawMail{UID: msg.Uid, Err: errors.Wrap(err, "failed to read body")})
			continue
		}
		out = append(out, RawMail{UID: msg.Uid, Body: body})
	}
	if err := <-done; err != nil {
		return out, err
	}
	return out, nil
}

func (s *imapSession) Logout() error { return s.c.Logout() }
