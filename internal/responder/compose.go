package responder

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/rate"
)

// DefaultBody is the vacation notice sent when no body is configured.
const DefaultBody = "Hi,\n\nI'm currently on vacation and will get back to you soon.\n\nRegards"

const replyPrefix = "Re:"

// ErrMalformedHeader reports a message whose headers cannot produce a reply.
var ErrMalformedHeader = errors.New("malformed header")

var angleAddrRe = regexp.MustCompile(`<([^<>]*)>`)

// Draft is a reply built from one message. It lives for a single dispatch.
type Draft struct {
	MessageID  gmail.MessageID
	ThreadID   gmail.ThreadID
	To         string
	Subject    string
	InReplyTo  string
	References string
	Body       string

	// Suppressed drafts are committed with the label but never sent.
	Suppressed     bool
	SuppressReason string

	Envelope gmail.Envelope
}

// Composer fetches reply metadata and renders the wire envelope.
type Composer struct {
	Client  gmail.Client
	Limiter rate.Limiter
	// From is written verbatim; the REST API rewrites "me" to the account address.
	From              string
	Body              string
	SuppressAutomated bool
	Clock             func() time.Time
	NewMessageID      func(from string) string
}

// NewComposer returns a Composer with defaults for unset fields.
func NewComposer(client gmail.Client, limiter rate.Limiter, from, body string) *Composer {
	if from == "" {
		from = "me"
	}
	if strings.TrimSpace(body) == "" {
		body = DefaultBody
	}
	return &Composer{
		Client:       client,
		Limiter:      limiter,
		From:         from,
		Body:         body,
		Clock:        time.Now,
		NewMessageID: generateMessageID,
	}
}

// Compose builds the reply for ref. Only metadata headers are fetched, never the body.
func (c *Composer) Compose(ctx context.Context, ref gmail.MessageRef) (Draft, error) {
	if err := wait(ctx, c.Limiter, "rate limit metadata"); err != nil {
		return Draft{}, err
	}
	meta, err := c.Client.GetMetadata(ctx, ref.ID, c.headers())
	if err != nil {
		return Draft{}, fmt.Errorf("get metadata %s: %w", ref.ID, err)
	}
	if meta.ID == "" {
		meta.ID = ref.ID
	}
	if meta.ThreadID == "" {
		meta.ThreadID = ref.ThreadID
	}

	if c.SuppressAutomated {
		if reason := automatedReason(meta); reason != "" {
			return Draft{
				MessageID:      meta.ID,
				ThreadID:       meta.ThreadID,
				Suppressed:     true,
				SuppressReason: reason,
			}, nil
		}
	}

	d, err := BuildDraft(meta, c.Body)
	if err != nil {
		return Draft{}, fmt.Errorf("compose reply to %s: %w", ref.ID, err)
	}
	d.Envelope = gmail.Envelope{Raw: EncodeRaw(c.Render(d)), ThreadID: d.ThreadID}
	return d, nil
}

func (c *Composer) headers() []string {
	hdrs := []string{gmail.HeaderSubject, gmail.HeaderFrom, gmail.HeaderMessageID}
	if c.SuppressAutomated {
		hdrs = append(hdrs, gmail.HeaderAutoSubmitted, gmail.HeaderPrecedence, gmail.HeaderListID)
	}
	return hdrs
}

// BuildDraft derives the reply fields from message metadata.
func BuildDraft(meta gmail.MessageMeta, body string) (Draft, error) {
	from, ok := meta.Header(gmail.HeaderFrom)
	if !ok {
		return Draft{}, fmt.Errorf("missing From header: %w", ErrMalformedHeader)
	}
	to, err := ReplyAddress(from)
	if err != nil {
		return Draft{}, err
	}
	subject, _ := meta.Header(gmail.HeaderSubject)

	ref, _ := meta.Header(gmail.HeaderMessageID)
	ref = normalizeMessageID(ref)
	if ref == "" {
		ref = normalizeMessageID(string(meta.ID))
	}

	return Draft{
		MessageID:  meta.ID,
		ThreadID:   meta.ThreadID,
		To:         to,
		Subject:    ReplySubject(subject),
		InReplyTo:  ref,
		References: ref,
		Body:       body,
	}, nil
}

// ReplyAddress extracts the address to answer from a From header value. Display-name forms
// (`"A" <a@b.com>`) and bare addresses (`a@b.com`) are both accepted.
func ReplyAddress(from string) (string, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", fmt.Errorf("empty From header: %w", ErrMalformedHeader)
	}
	if addr, err := mail.ParseAddress(from); err == nil {
		return addr.Address, nil
	}
	if m := angleAddrRe.FindAllStringSubmatch(from, -1); len(m) > 0 {
		addr := strings.TrimSpace(m[len(m)-1][1])
		if strings.Contains(addr, "@") && !strings.ContainsAny(addr, " \t\r\n") {
			return addr, nil
		}
	}
	return "", fmt.Errorf("no address in From header %q: %w", from, ErrMalformedHeader)
}

// ReplySubject prefixes subject with "Re: " unless it already starts with "Re:".
func ReplySubject(subject string) string {
	subject = sanitizeHeader(subject)
	if strings.HasPrefix(subject, replyPrefix) {
		return subject
	}
	return replyPrefix + " " + subject
}

// Render flattens d into an RFC 5322 message.
func (c *Composer) Render(d Draft) []byte {
	clock := c.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := c.NewMessageID
	if newID == nil {
		newID = generateMessageID
	}
	headers := []string{
		"From: " + c.From,
		"To: " + d.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", d.Subject),
	}
	if d.InReplyTo != "" {
		headers = append(headers, "In-Reply-To: "+d.InReplyTo)
	}
	if d.References != "" {
		headers = append(headers, "References: "+d.References)
	}
	headers = append(headers,
		"Message-ID: "+newID(c.From),
		"Date: "+clock().Format(time.RFC1123Z),
		"Auto-Submitted: auto-replied",
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
		"Content-Transfer-Encoding: 8bit",
	)
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + normalizeBody(d.Body) + "\r\n")
}

func automatedReason(meta gmail.MessageMeta) string {
	if v, ok := meta.Header(gmail.HeaderAutoSubmitted); ok {
		token := strings.ToLower(strings.TrimSpace(strings.SplitN(v, ";", 2)[0]))
		if token != "" && token != "no" {
			return "auto-submitted: " + token
		}
	}
	if v, ok := meta.Header(gmail.HeaderPrecedence); ok {
		switch p := strings.ToLower(strings.TrimSpace(v)); p {
		case "bulk", "list", "junk":
			return "precedence: " + p
		}
	}
	if v, ok := meta.Header(gmail.HeaderListID); ok {
		if lid := normalizeListID(v); lid != "" {
			return "list-id: " + lid
		}
	}
	return ""
}

// normalizeListID reduces `"Name" <list.example.com>` to `list.example.com`.
func normalizeListID(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := angleAddrRe.FindAllStringSubmatch(raw, -1); len(m) > 0 {
		raw = m[len(m)-1][1]
	}
	return strings.ToLower(strings.Trim(raw, "\" <>"))
}

func sanitizeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.TrimSpace(value)
}

func normalizeBody(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\r", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return strings.TrimSpace(body)
}

func normalizeMessageID(value string) string {
	value = sanitizeHeader(value)
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "<") && strings.HasSuffix(value, ">") {
		return value
	}
	return "<" + strings.Trim(value, "<>") + ">"
}

func generateMessageID(from string) string {
	domain := "vacationd.local"
	if at := strings.LastIndex(from, "@"); at >= 0 && at < len(from)-1 {
		domain = strings.Trim(from[at+1:], "<> ")
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}
