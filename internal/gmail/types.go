// internal/gmail/types.go
package gmail

import "strings"

type MessageID string
type LabelID string
type ThreadID string

// System label ids shared by the REST and IMAP backends.
const (
	LabelInbox LabelID = "INBOX"
)

// Standard header names requested from the provider.
const (
	HeaderFrom          = "From"
	HeaderSubject       = "Subject"
	HeaderMessageID     = "Message-ID"
	HeaderAutoSubmitted = "Auto-Submitted"
	HeaderPrecedence    = "Precedence"
	HeaderListID        = "List-Id"
)

type Label struct {
	ID   LabelID
	Name string
	Type string // "system" or "user"
}

// Visibility mirrors the Gmail label list/message list visibility settings.
type Visibility struct {
	LabelList   string // labelShow, labelShowIfUnread, labelHide
	MessageList string // show, hide
}

// DefaultVisibility keeps the completion label visible in the sidebar and on messages.
var DefaultVisibility = Visibility{LabelList: "labelShow", MessageList: "show"}

type MessageRef struct {
	ID       MessageID
	ThreadID ThreadID
}

type ListPage struct {
	Refs          []MessageRef
	NextPageToken string
}

type MessageMeta struct {
	ID       MessageID
	ThreadID ThreadID
	Labels   []LabelID
	Headers  map[string]string // From, Subject, Message-ID, Auto-Submitted, Precedence, List-Id
}

// Header returns the value of name, matching case-insensitively as RFC 5322 requires.
func (m MessageMeta) Header(name string) (string, bool) {
	if v, ok := m.Headers[name]; ok {
		return v, true
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Envelope is the outbound reply as accepted by the transport.
type Envelope struct {
	Raw      string   // header+body blob, base64url without padding
	ThreadID ThreadID // optional: keeps the reply in the original conversation
}

type ModifyOps struct {
	AddLabels    []LabelID
	RemoveLabels []LabelID
}

type Query struct {
	Raw string // Gmail query string, already formed (e.g., `-in:chats -from:me -has:userlabels`)
}
