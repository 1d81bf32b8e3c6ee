// Package mailbox watches an IMAP inbox for directory confirmation
// emails. Many directories verify listings by sending a link that must be
// visited before the listing goes live; the watcher visits matching links
// and records the confirmation against the directory.
package mailbox

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/autobolt/internal/catalog"
	"github.com/ternarybob/autobolt/internal/common"
	"github.com/ternarybob/autobolt/internal/interfaces"
	"github.com/ternarybob/autobolt/internal/models"
)

// linkPattern pulls candidate URLs out of a plain-text email body
var linkPattern = regexp.MustCompile(`https?://[^\s"'<>)\]]+`)

// visitTimeout bounds one confirmation-link GET
const visitTimeout = 30 * time.Second

// Watcher polls the configured mailbox and settles confirmation links
type Watcher struct {
	config    *common.MailboxConfig
	store     interfaces.WorkerStore
	client    *http.Client
	logger    arbor.ILogger
	hostIndex map[string]*models.Directory
	jobID     func() string
}

// NewWatcher creates the confirmation watcher. jobID supplies the job to
// tag confirmations with and may return empty between jobs.
func NewWatcher(config *common.MailboxConfig, cat *catalog.Catalog, store interfaces.WorkerStore, jobID func() string, logger arbor.ILogger) *Watcher {
	if logger == nil {
		logger = common.GetLogger()
	}
	if jobID == nil {
		jobID = func() string { return "" }
	}
	return &Watcher{
		config:    config,
		store:     store,
		client:    &http.Client{Timeout: visitTimeout},
		logger:    logger,
		hostIndex: buildHostIndex(cat.Directories()),
		jobID:     jobID,
	}
}

// buildHostIndex maps submission-page hosts to their directory so inbound
// links can be attributed. The www prefix is stripped on both sides.
func buildHostIndex(directories []*models.Directory) map[string]*models.Directory {
	index := make(map[string]*models.Directory, len(directories))
	for _, directory := range directories {
		parsed, err := url.Parse(directory.SubmissionURL)
		if err != nil || parsed.Host == "" {
			continue
		}
		index[canonicalHost(parsed.Host)] = directory
	}
	return index
}

func canonicalHost(host string) string {
	host = strings.ToLower(host)
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	return strings.TrimPrefix(host, "www.")
}

// Start runs the poll loop until the context ends. Disabled config makes
// Start a no-op so callers can wire the watcher unconditionally.
func (w *Watcher) Start(ctx context.Context) {
	if !w.config.Enabled {
		return
	}
	w.logger.Info().
		Str("server", w.config.Server).
		Str("folder", w.config.Folder).
		Dur("poll_interval", w.config.PollInterval).
		Msg("Starting mailbox confirmation watcher")

	common.SafeGoWithContext(ctx, w.logger, "mailboxWatcher", func() {
		ticker := time.NewTicker(w.config.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.pollOnce(ctx); err != nil {
					w.logger.Warn().Err(err).Msg("Mailbox poll failed")
				}
			}
		}
	})
}

// pollOnce reads unseen messages, visits matching confirmation links, and
// marks handled messages seen. Unmatched messages are left unseen for a
// human to triage.
func (w *Watcher) pollOnce(ctx context.Context) error {
	c, err := w.dial()
	if err != nil {
		return err
	}
	defer c.Logout()

	if err := c.Login(w.config.Username, w.config.Password); err != nil {
		return fmt.Errorf("imap login failed: %w", err)
	}

	mbox, err := c.Select(w.config.Folder, false)
	if err != nil {
		return fmt.Errorf("failed to select %s: %w", w.config.Folder, err)
	}
	if mbox.Messages == 0 {
		return nil
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	seqNums, err := c.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search for unseen messages: %w", err)
	}
	if len(seqNums) == 0 {
		return nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(seqNums...)

	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, len(seqNums))
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	handled := new(imap.SeqSet)
	for msg := range messages {
		if msg == nil || msg.Envelope == nil {
			continue
		}
		body, err := parseBody(msg, section)
		if err != nil {
			w.logger.Warn().Err(err).Int64("seq", int64(msg.SeqNum)).Msg("Failed to parse message body")
			continue
		}
		if w.handleMessage(ctx, msg, body) {
			handled.AddNum(msg.SeqNum)
		}
	}
	if err := <-done; err != nil {
		return fmt.Errorf("failed to fetch messages: %w", err)
	}

	if !handled.Empty() {
		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.Store(handled, item, []interface{}{imap.SeenFlag}, nil); err != nil {
			return fmt.Errorf("failed to mark messages seen: %w", err)
		}
	}
	return nil
}

func (w *Watcher) dial() (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	if w.config.UseTLS {
		c, err = client.DialTLS(w.config.Server, nil)
	} else {
		c, err = client.Dial(w.config.Server)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	return c, nil
}

// handleMessage resolves one email's confirmation link. Returns true when
// the message was attributed to a directory and should be marked seen.
func (w *Watcher) handleMessage(ctx context.Context, msg *imap.Message, body string) bool {
	directory, link := w.matchConfirmation(body)
	if directory == nil {
		return false
	}

	if err := w.visitLink(ctx, link); err != nil {
		w.logger.Warn().Err(err).
			Str("directory_id", directory.ID).
			Msg("Confirmation link visit failed; leaving message unseen")
		return false
	}

	from := ""
	if len(msg.Envelope.From) > 0 {
		from = msg.Envelope.From[0].Address()
	}
	record := &models.ConfirmationRecord{
		ID:            common.NewRecordID(),
		JobID:         w.jobID(),
		DirectoryID:   directory.ID,
		DirectoryName: directory.Name,
		Subject:       msg.Envelope.Subject,
		From:          from,
		ReceivedAt:    msg.Envelope.Date,
		MatchedAt:     time.Now().UTC(),
	}
	if err := w.store.SaveConfirmation(ctx, record); err != nil {
		w.logger.Warn().Err(err).Str("directory_id", directory.ID).Msg("Failed to persist confirmation record")
	}

	w.logger.Info().
		Str("directory", directory.Name).
		Str("from", from).
		Msg("Directory submission confirmed")
	return true
}

// matchConfirmation returns the first link in the body whose host belongs
// to a catalog directory
func (w *Watcher) matchConfirmation(body string) (*models.Directory, string) {
	for _, link := range linkPattern.FindAllString(body, -1) {
		parsed, err := url.Parse(link)
		if err != nil || parsed.Host == "" {
			continue
		}
		if directory, ok := w.hostIndex[canonicalHost(parsed.Host)]; ok {
			return directory, link
		}
	}
	return nil, ""
}

func (w *Watcher) visitLink(ctx context.Context, link string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("failed to build confirmation request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("confirmation request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("confirmation link returned status %d", resp.StatusCode)
	}
	return nil
}

// parseBody extracts the first text/plain part of the message
func parseBody(msg *imap.Message, section *imap.BodySectionName) (string, error) {
	r := msg.GetBody(section)
	if r == nil {
		return "", fmt.Errorf("no body section")
	}
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create mail reader: %w", err)
	}

	var body string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if strings.HasPrefix(contentType, "text/plain") {
				b, err := io.ReadAll(p.Body)
				if err != nil {
					return "", fmt.Errorf("failed to read body: %w", err)
				}
				body = string(b)
			}
		}
	}
	return strings.TrimSpace(body), nil
}
