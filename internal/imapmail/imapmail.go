// Package imapmail implements gmail.Client over Gmail's IMAP and SMTP endpoints, for accounts
// that authenticate with an app password instead of OAuth.
package imapmail

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/responses"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/zalando/go-keyring"

	gc "github.com/joshsymonds/vacationd/internal/gmail"
)

const (
	DefaultIMAPAddress = "imap.gmail.com:993"
	DefaultSMTPAddress = "smtp.gmail.com:465"

	allMail        = "[Gmail]/All Mail"
	inboxLabel     = `\Inbox`
	keyringService = "vacationd"

	// EnvAppPassword is checked before the keyring.
	EnvAppPassword = "GMAIL_APP_PASSWORD"
)

const (
	fetchGmailThreadID  imap.FetchItem = "X-GM-THRID"
	fetchGmailMessageID imap.FetchItem = "X-GM-MSGID"
	fetchGmailLabels    imap.FetchItem = "X-GM-LABELS"
)

// Config holds the account and endpoints.
type Config struct {
	IMAPAddress string
	SMTPAddress string
	Username    string
	Password    string
}

// Client keeps one IMAP session open between calls and reconnects after a failure. SMTP
// connections are opened per send.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *client.Client
}

var _ gc.Client = (*Client)(nil)

// New validates cfg and fills in Gmail's default endpoints. No connection is made until the
// first call.
func New(cfg Config) (*Client, error) {
	cfg.Username = strings.TrimSpace(cfg.Username)
	if cfg.Username == "" {
		return nil, errors.New("imap: username is required")
	}
	cfg.Password = strings.ReplaceAll(cfg.Password, " ", "")
	if cfg.Password == "" {
		return nil, errors.New("imap: app password is required")
	}
	if cfg.IMAPAddress == "" {
		cfg.IMAPAddress = DefaultIMAPAddress
	}
	if cfg.SMTPAddress == "" {
		cfg.SMTPAddress = DefaultSMTPAddress
	}
	return &Client{cfg: cfg}, nil
}

// LoadPassword returns the app password from the environment or the OS keyring.
func LoadPassword(username string) (string, error) {
	if pw := strings.TrimSpace(os.Getenv(EnvAppPassword)); pw != "" {
		return pw, nil
	}
	pw, err := keyring.Get(keyringService, "imap:"+username)
	if err != nil {
		return "", fmt.Errorf("imap: no app password in %s or keyring: %w", EnvAppPassword, err)
	}
	return pw, nil
}

// StorePassword saves the app password in the OS keyring.
func StorePassword(username, password string) error {
	if err := keyring.Set(keyringService, "imap:"+username, password); err != nil {
		return fmt.Errorf("imap: save app password: %w", err)
	}
	return nil
}

// Close logs out of the IMAP session if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Logout()
	c.conn = nil
	return err
}

// with runs fn against an open session with All Mail selected. Any error drops the session so
// the next call redials.
func (c *Client) with(ctx context.Context, fn func(cl *client.Client) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.State() == imap.LogoutState {
		cl, err := c.dial()
		if err != nil {
			return err
		}
		c.conn = cl
	}
	err := fn(c.conn)
	if err != nil && isConnectionError(err) {
		_ = c.conn.Logout()
		c.conn = nil
	}
	return err
}

func (c *Client) dial() (*client.Client, error) {
	host, _, err := net.SplitHostPort(c.cfg.IMAPAddress)
	if err != nil {
		return nil, fmt.Errorf("imap: bad address %q: %w", c.cfg.IMAPAddress, err)
	}
	cl, err := client.DialTLS(c.cfg.IMAPAddress, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("imap: dial: %w", err)
	}
	if err := cl.Login(c.cfg.Username, c.cfg.Password); err != nil {
		_ = cl.Logout()
		return nil, fmt.Errorf("imap: login: %w: %w", gc.ErrUnauthorized, err)
	}
	return cl, nil
}

func (c *Client) ListLabels(ctx context.Context) ([]gc.Label, error) {
	var labels []gc.Label
	err := c.with(ctx, func(cl *client.Client) error {
		ch := make(chan *imap.MailboxInfo, 64)
		done := make(chan error, 1)
		go func() { done <- cl.List("", "*", ch) }()
		for mbox := range ch {
			labels = append(labels, gc.Label{ID: gc.LabelID(mbox.Name), Name: mbox.Name, Type: labelType(mbox.Name)})
		}
		return <-done
	})
	if err != nil {
		return nil, fmt.Errorf("imap: list labels: %w", err)
	}
	return labels, nil
}

// CreateLabel creates a mailbox. Visibility has no IMAP equivalent and is ignored.
func (c *Client) CreateLabel(ctx context.Context, name string, vis gc.Visibility) (gc.LabelID, error) {
	_ = vis
	err := c.with(ctx, func(cl *client.Client) error { return cl.Create(name) })
	if err != nil {
		if isAlreadyExists(err) {
			return "", fmt.Errorf("imap: create label %q: %w", name, gc.ErrLabelExists)
		}
		return "", fmt.Errorf("imap: create label %q: %w", name, err)
	}
	return gc.LabelID(name), nil
}

// List runs q through X-GM-RAW and returns the newest pageSize matches.
func (c *Client) List(ctx context.Context, q gc.Query, pageSize int) (gc.ListPage, error) {
	var page gc.ListPage
	err := c.with(ctx, func(cl *client.Client) error {
		if _, err := cl.Select(allMail, false); err != nil {
			return fmt.Errorf("select %q: %w", allMail, err)
		}
		uids, err := search(cl, "X-GM-RAW", quote(q.Raw))
		if err != nil {
			return err
		}
		uids = newestFirst(uids, pageSize)
		if len(uids) == 0 {
			return nil
		}
		msgs, err := fetch(cl, uids, []imap.FetchItem{imap.FetchUid, fetchGmailMessageID, fetchGmailThreadID})
		if err != nil {
			return err
		}
		order := make(map[uint32]int, len(uids))
		for i, uid := range uids {
			order[uid] = i
		}
		sort.Slice(msgs, func(i, j int) bool { return order[msgs[i].Uid] < order[msgs[j].Uid] })
		for _, m := range msgs {
			page.Refs = append(page.Refs, gc.MessageRef{
				ID:       gc.MessageID(idValue(m.Items[fetchGmailMessageID])),
				ThreadID: gc.ThreadID(idValue(m.Items[fetchGmailThreadID])),
			})
		}
		return nil
	})
	if err != nil {
		return gc.ListPage{}, fmt.Errorf("imap: list messages: %w", err)
	}
	return page, nil
}

// GetMetadata fetches only the requested header fields.
func (c *Client) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	meta := gc.MessageMeta{ID: id}
	err := c.with(ctx, func(cl *client.Client) error {
		uid, err := c.resolve(cl, id)
		if err != nil {
			return err
		}
		section := &imap.BodySectionName{
			BodyPartName: imap.BodyPartName{Specifier: imap.HeaderSpecifier, Fields: headers},
			Peek:         true,
		}
		items := []imap.FetchItem{imap.FetchUid, fetchGmailThreadID, fetchGmailLabels, section.FetchItem()}
		msgs, err := fetch(cl, []uint32{uid}, items)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return fmt.Errorf("message %s not found", id)
		}
		m := msgs[0]
		meta.ThreadID = gc.ThreadID(idValue(m.Items[fetchGmailThreadID]))
		meta.Labels = fromIMAPLabels(labelValues(m.Items[fetchGmailLabels]))
		if lit := m.GetBody(section); lit != nil {
			meta.Headers, err = parseHeaderSection(lit, headers)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return gc.MessageMeta{}, fmt.Errorf("imap: get message %s: %w", id, err)
	}
	return meta, nil
}

// Send submits the decoded envelope over SMTP. Recipients come from its To header; Gmail
// threads the reply from its References and Subject.
func (c *Client) Send(ctx context.Context, env gc.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(env.Raw, "="))
	if err != nil {
		return fmt.Errorf("imap: decode envelope: %w", err)
	}
	rcpts, err := recipients(raw)
	if err != nil {
		return fmt.Errorf("imap: %w", err)
	}

	host, _, err := net.SplitHostPort(c.cfg.SMTPAddress)
	if err != nil {
		return fmt.Errorf("smtp: bad address %q: %w", c.cfg.SMTPAddress, err)
	}
	conn, err := tls.Dial("tcp", c.cfg.SMTPAddress, &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("smtp: dial: %w", err)
	}
	sc := smtp.NewClient(conn)
	defer sc.Close()

	if err := sc.Auth(sasl.NewPlainClient("", c.cfg.Username, c.cfg.Password)); err != nil {
		return fmt.Errorf("smtp: auth: %w: %w", gc.ErrUnauthorized, err)
	}
	if err := sc.Mail(c.cfg.Username, nil); err != nil {
		return fmt.Errorf("smtp: MAIL FROM: %w", err)
	}
	for _, rcpt := range rcpts {
		if err := sc.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("smtp: RCPT TO %q: %w", rcpt, err)
		}
	}
	w, err := sc.Data()
	if err != nil {
		return fmt.Errorf("smtp: DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp: write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp: finalize message: %w", err)
	}
	if err := sc.Quit(); err != nil {
		return fmt.Errorf("smtp: QUIT: %w", err)
	}
	return nil
}

// Modify adds and removes Gmail labels through X-GM-LABELS. INBOX maps to \Inbox.
func (c *Client) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	err := c.with(ctx, func(cl *client.Client) error {
		uid, err := c.resolve(cl, id)
		if err != nil {
			return err
		}
		set := new(imap.SeqSet)
		set.AddNum(uid)
		if len(ops.AddLabels) > 0 {
			if err := execute(cl, &storeLabels{SeqSet: set, Add: true, Labels: toIMAPLabels(ops.AddLabels)}); err != nil {
				return fmt.Errorf("add labels: %w", err)
			}
		}
		if len(ops.RemoveLabels) > 0 {
			if err := execute(cl, &storeLabels{SeqSet: set, Labels: toIMAPLabels(ops.RemoveLabels)}); err != nil {
				return fmt.Errorf("remove labels: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("imap: modify %s: %w", id, err)
	}
	return nil
}

func (c *Client) resolve(cl *client.Client, id gc.MessageID) (uint32, error) {
	if _, err := cl.Select(allMail, false); err != nil {
		return 0, fmt.Errorf("select %q: %w", allMail, err)
	}
	uids, err := search(cl, "X-GM-MSGID", string(id))
	if err != nil {
		return 0, err
	}
	if len(uids) == 0 {
		return 0, fmt.Errorf("message %s not found", id)
	}
	return uids[0], nil
}

// execute runs a custom command and turns a NO/BAD status into an error.
func execute(cl *client.Client, cmd imap.Commander) error {
	status, err := cl.Execute(cmd, nil)
	if err != nil {
		return err
	}
	return status.Err()
}

func search(cl *client.Client, atom, value string) ([]uint32, error) {
	resp := &responses.Search{}
	status, err := cl.Execute(&gmailSearch{Atom: atom, Value: value}, resp)
	if err == nil {
		err = status.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", atom, err)
	}
	return resp.Ids, nil
}

func fetch(cl *client.Client, uids []uint32, items []imap.FetchItem) ([]*imap.Message, error) {
	set := new(imap.SeqSet)
	set.AddNum(uids...)
	ch := make(chan *imap.Message, len(uids)+8)
	done := make(chan error, 1)
	go func() { done <- cl.UidFetch(set, items, ch) }()

	var out []*imap.Message
	for m := range ch {
		// Literals are drained here so later readers are not tied to the connection.
		for name, lit := range m.Body {
			data, err := io.ReadAll(lit)
			if err != nil {
				return nil, fmt.Errorf("read body section: %w", err)
			}
			m.Body[name] = bytes.NewReader(data)
		}
		out = append(out, m)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	return out, nil
}

// parseHeaderSection reads a fetched header block and returns the wanted fields decoded.
func parseHeaderSection(r io.Reader, wanted []string) (map[string]string, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("parse header section: %w", err)
	}
	h := message.Header{Header: th}
	out := make(map[string]string, len(wanted))
	for _, name := range wanted {
		if !h.Has(name) {
			continue
		}
		v, err := h.Text(name)
		if err != nil {
			v = h.Get(name)
		}
		out[name] = v
	}
	return out, nil
}

// recipients returns the To addresses of a rendered message.
func recipients(raw []byte) ([]string, error) {
	th, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, fmt.Errorf("parse envelope header: %w", err)
	}
	h := mail.Header{Header: message.Header{Header: th}}
	addrs, err := h.AddressList("To")
	if err != nil {
		return nil, fmt.Errorf("parse To: %w", err)
	}
	if len(addrs) == 0 {
		return nil, errors.New("envelope has no recipients")
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out, nil
}

// newestFirst sorts UIDs descending and keeps at most limit of them.
func newestFirst(uids []uint32, limit int) []uint32 {
	out := append([]uint32(nil), uids...)
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func labelType(name string) string {
	if name == "INBOX" || strings.HasPrefix(name, "[Gmail]") {
		return "system"
	}
	return "user"
}

func toIMAPLabels(ids []gc.LabelID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == gc.LabelInbox {
			out = append(out, inboxLabel)
			continue
		}
		out = append(out, string(id))
	}
	return out
}

func fromIMAPLabels(labels []string) []gc.LabelID {
	out := make([]gc.LabelID, 0, len(labels))
	for _, l := range labels {
		if strings.EqualFold(l, inboxLabel) {
			out = append(out, gc.LabelInbox)
			continue
		}
		out = append(out, gc.LabelID(l))
	}
	return out
}

func idValue(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case uint32:
		return strconv.FormatUint(uint64(value), 10)
	case uint64:
		return strconv.FormatUint(value, 10)
	case int64:
		return strconv.FormatInt(value, 10)
	case string:
		return value
	default:
		return fmt.Sprintf("%v", value)
	}
}

func labelValues(v any) []string {
	switch value := v.(type) {
	case nil:
		return nil
	case []string:
		return append([]string(nil), value...)
	case []any:
		out := make([]string, 0, len(value))
		for _, raw := range value {
			out = append(out, fmt.Sprintf("%v", raw))
		}
		return out
	case string:
		if value == "" {
			return nil
		}
		return []string{value}
	default:
		return []string{fmt.Sprintf("%v", value)}
	}
}

func isAlreadyExists(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "alreadyexists") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate folder")
}

func isConnectionError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, client.ErrNotLoggedIn)
}

type gmailSearch struct {
	Atom  string
	Value string
}

func (s *gmailSearch) Command() *imap.Command {
	return &imap.Command{
		Name:      "UID SEARCH",
		Arguments: []any{imap.RawString(s.Atom + " " + s.Value)},
	}
}

type storeLabels struct {
	SeqSet *imap.SeqSet
	Add    bool
	Labels []string
}

func (s *storeLabels) Command() *imap.Command {
	op := "-X-GM-LABELS"
	if s.Add {
		op = "+X-GM-LABELS"
	}
	quoted := make([]string, 0, len(s.Labels))
	for _, label := range s.Labels {
		if strings.ContainsAny(label, ` "()`) {
			quoted = append(quoted, quote(label))
			continue
		}
		quoted = append(quoted, label)
	}
	return &imap.Command{
		Name:      "UID STORE",
		Arguments: []any{s.SeqSet, imap.RawString(op), imap.RawString("(" + strings.Join(quoted, " ") + ")")},
	}
}
