package responder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joshsymonds/vacationd/internal/gmail"
)

// fakeMailbox is an in-memory gmail.Client that honors the unhandled-mail query.
type fakeMailbox struct {
	labels   []gmail.Label
	order    []gmail.MessageID
	messages map[gmail.MessageID]*gmail.MessageMeta

	calls         []string
	listQueries   []string
	listPageSizes []int
	metaHeaders   [][]string
	sent          []gmail.Envelope
	createErr     error
	listErr       error
	listLabelsErr error
	metadataErr   map[gmail.MessageID]error
	sendErrAt     map[int]error // keyed by 1-based send call number
	modifyErr     map[gmail.MessageID]error
	sendCount     int
	createdLabels int
	selfAddress   string
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages:    map[gmail.MessageID]*gmail.MessageMeta{},
		metadataErr: map[gmail.MessageID]error{},
		sendErrAt:   map[int]error{},
		modifyErr:   map[gmail.MessageID]error{},
		selfAddress: "me@example.com",
	}
}

func (f *fakeMailbox) addMessage(id, from, subject string, labels ...gmail.LabelID) {
	mid := gmail.MessageID(id)
	f.order = append(f.order, mid)
	f.messages[mid] = &gmail.MessageMeta{
		ID:       mid,
		ThreadID: gmail.ThreadID("t-" + id),
		Labels:   append([]gmail.LabelID{gmail.LabelInbox}, labels...),
		Headers: map[string]string{
			gmail.HeaderFrom:      from,
			gmail.HeaderSubject:   subject,
			gmail.HeaderMessageID: "<" + id + "@mail.example.com>",
		},
	}
}

func (f *fakeMailbox) ListLabels(ctx context.Context) ([]gmail.Label, error) {
	_ = ctx
	f.calls = append(f.calls, "listLabels")
	if f.listLabelsErr != nil {
		return nil, f.listLabelsErr
	}
	return append([]gmail.Label(nil), f.labels...), nil
}

func (f *fakeMailbox) CreateLabel(ctx context.Context, name string, vis gmail.Visibility) (gmail.LabelID, error) {
	_ = ctx
	_ = vis
	f.calls = append(f.calls, "createLabel")
	if f.createErr != nil {
		return "", f.createErr
	}
	for _, l := range f.labels {
		if l.Name == name {
			return "", fmt.Errorf("create label %q: %w", name, gmail.ErrLabelExists)
		}
	}
	f.createdLabels++
	id := gmail.LabelID(fmt.Sprintf("Label_%d", f.createdLabels))
	f.labels = append(f.labels, gmail.Label{ID: id, Name: name, Type: "user"})
	return id, nil
}

func (f *fakeMailbox) List(ctx context.Context, q gmail.Query, pageSize int) (gmail.ListPage, error) {
	_ = ctx
	f.calls = append(f.calls, "list")
	f.listQueries = append(f.listQueries, q.Raw)
	f.listPageSizes = append(f.listPageSizes, pageSize)
	if f.listErr != nil {
		return gmail.ListPage{}, f.listErr
	}
	var page gmail.ListPage
	for _, id := range f.order {
		meta := f.messages[id]
		if strings.Contains(q.Raw, "-has:userlabels") && hasUserLabel(meta.Labels) {
			continue
		}
		if strings.Contains(q.Raw, "-from:me") && strings.Contains(meta.Headers[gmail.HeaderFrom], f.selfAddress) {
			continue
		}
		page.Refs = append(page.Refs, gmail.MessageRef{ID: meta.ID, ThreadID: meta.ThreadID})
		if len(page.Refs) == pageSize {
			break
		}
	}
	return page, nil
}

func (f *fakeMailbox) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	_ = ctx
	f.calls = append(f.calls, "get:"+string(id))
	f.metaHeaders = append(f.metaHeaders, headers)
	if err := f.metadataErr[id]; err != nil {
		return gmail.MessageMeta{}, err
	}
	meta, ok := f.messages[id]
	if !ok {
		return gmail.MessageMeta{}, fmt.Errorf("message %s not found", id)
	}
	out := *meta
	out.Headers = map[string]string{}
	for _, h := range headers {
		if v, ok := meta.Headers[h]; ok {
			out.Headers[h] = v
		}
	}
	return out, nil
}

func (f *fakeMailbox) Send(ctx context.Context, env gmail.Envelope) error {
	_ = ctx
	f.sendCount++
	f.calls = append(f.calls, "send")
	if err := f.sendErrAt[f.sendCount]; err != nil {
		return err
	}
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeMailbox) Modify(ctx context.Context, id gmail.MessageID, ops gmail.ModifyOps) error {
	_ = ctx
	f.calls = append(f.calls, "modify:"+string(id))
	if err := f.modifyErr[id]; err != nil {
		return err
	}
	meta, ok := f.messages[id]
	if !ok {
		return fmt.Errorf("message %s not found", id)
	}
	kept := meta.Labels[:0]
	for _, l := range meta.Labels {
		if !containsLabel(ops.RemoveLabels, l) {
			kept = append(kept, l)
		}
	}
	meta.Labels = append(kept, ops.AddLabels...)
	return nil
}

func (f *fakeMailbox) countCalls(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func hasUserLabel(labels []gmail.LabelID) bool {
	for _, l := range labels {
		if strings.HasPrefix(string(l), "Label_") {
			return true
		}
	}
	return false
}

func containsLabel(labels []gmail.LabelID, want gmail.LabelID) bool {
	for _, l := range labels {
		if l == want {
			return true
		}
	}
	return false
}

type noLimiter struct{}

func (noLimiter) Wait(ctx context.Context) error {
	_ = ctx
	return nil
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
