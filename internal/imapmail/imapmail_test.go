package imapmail

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-imap"

	gc "github.com/joshsymonds/vacationd/internal/gmail"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "missing-user", cfg: Config{Password: "pw"}, wantErr: true},
		{name: "missing-password", cfg: Config{Username: "me@example.com"}, wantErr: true},
		{name: "spaces-only-password", cfg: Config{Username: "me@example.com", Password: "    "}, wantErr: true},
		{name: "ok", cfg: Config{Username: "me@example.com", Password: "abcd efgh ijkl mnop"}},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil {
				return
			}
			if c.cfg.Password != "abcdefghijklmnop" {
				t.Fatalf("app password spaces not stripped: %q", c.cfg.Password)
			}
			if c.cfg.IMAPAddress != DefaultIMAPAddress || c.cfg.SMTPAddress != DefaultSMTPAddress {
				t.Fatalf("defaults not applied: %+v", c.cfg)
			}
		})
	}
}

func TestLoadPasswordFromEnv(t *testing.T) {
	t.Setenv(EnvAppPassword, "secret")
	pw, err := LoadPassword("me@example.com")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pw != "secret" {
		t.Fatalf("unexpected password %q", pw)
	}
}

func TestSearchCommandQuotesRawQuery(t *testing.T) {
	cmd := (&gmailSearch{Atom: "X-GM-RAW", Value: quote(`-in:chats -from:me -has:userlabels subject:"a\b"`)}).Command()
	if cmd.Name != "UID SEARCH" {
		t.Fatalf("unexpected command %q", cmd.Name)
	}
	got := fmt.Sprint(cmd.Arguments[0])
	want := `X-GM-RAW "-in:chats -from:me -has:userlabels subject:\"a\\b\""`
	if got != want {
		t.Fatalf("argument = %s, want %s", got, want)
	}
}

func TestStoreLabelsCommand(t *testing.T) {
	set := new(imap.SeqSet)
	set.AddNum(42)

	add := (&storeLabels{SeqSet: set, Add: true, Labels: []string{"Out of office"}}).Command()
	if add.Name != "UID STORE" || fmt.Sprint(add.Arguments[1]) != "+X-GM-LABELS" {
		t.Fatalf("unexpected add command %+v", add)
	}
	if got := fmt.Sprint(add.Arguments[2]); got != `("Out of office")` {
		t.Fatalf("unexpected label list %s", got)
	}

	remove := (&storeLabels{SeqSet: set, Labels: toIMAPLabels([]gc.LabelID{gc.LabelInbox})}).Command()
	if fmt.Sprint(remove.Arguments[1]) != "-X-GM-LABELS" || fmt.Sprint(remove.Arguments[2]) != `(\Inbox)` {
		t.Fatalf("unexpected remove command %+v", remove.Arguments)
	}
}

func TestLabelMapping(t *testing.T) {
	got := fromIMAPLabels([]string{`\Inbox`, "Vacation", `\Important`})
	if len(got) != 3 || got[0] != gc.LabelInbox || got[1] != "Vacation" {
		t.Fatalf("unexpected labels %v", got)
	}
	if labelType("INBOX") != "system" || labelType("[Gmail]/Sent Mail") != "system" || labelType("Vacation") != "user" {
		t.Fatalf("unexpected label types")
	}
}

func TestParseHeaderSection(t *testing.T) {
	block := "From: \"Alice\" <alice@example.com>\r\n" +
		"Subject: =?UTF-8?Q?Caf=C3=A9?=\r\n" +
		"Message-ID: <abc@example.com>\r\n\r\n"
	got, err := parseHeaderSection(strings.NewReader(block), []string{gc.HeaderFrom, gc.HeaderSubject, gc.HeaderMessageID, gc.HeaderPrecedence})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got[gc.HeaderSubject] != "Café" {
		t.Fatalf("subject not decoded: %q", got[gc.HeaderSubject])
	}
	if got[gc.HeaderFrom] != `"Alice" <alice@example.com>` {
		t.Fatalf("unexpected From %q", got[gc.HeaderFrom])
	}
	if _, ok := got[gc.HeaderPrecedence]; ok {
		t.Fatalf("absent headers must not be reported")
	}
}

func TestRecipients(t *testing.T) {
	raw := []byte("From: me@example.com\r\nTo: alice@example.com\r\nSubject: Re: Hi\r\n\r\naway\r\n")
	got, err := recipients(raw)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 1 || got[0] != "alice@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}

	if _, err := recipients([]byte("Subject: none\r\n\r\n")); err == nil {
		t.Fatalf("expected error without To")
	}
}

func TestNewestFirst(t *testing.T) {
	got := newestFirst([]uint32{3, 10, 7, 1}, 2)
	if fmt.Sprint(got) != "[10 7]" {
		t.Fatalf("unexpected order %v", got)
	}
	if got := newestFirst([]uint32{1, 2}, 0); len(got) != 2 {
		t.Fatalf("zero limit should keep everything")
	}
}

func TestIsAlreadyExists(t *testing.T) {
	if !isAlreadyExists(errors.New("Duplicate folder name Vacation (Failure)")) {
		t.Fatalf("expected Gmail duplicate folder message to match")
	}
	if isAlreadyExists(errors.New("Quota exceeded")) {
		t.Fatalf("unexpected match")
	}
}

func TestIDValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: uint64(1782345678901234567), want: "1782345678901234567"},
		{in: uint32(5), want: "5"},
		{in: "17a", want: "17a"},
	}
	for _, tc := range tests {
		if got := idValue(tc.in); got != tc.want {
			t.Fatalf("idValue(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
