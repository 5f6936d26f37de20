// internal/runtime/googleapi.go adapts *gmail.Service to the gmail.Client interface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/vacationd/internal/gmail"
)

const me = "me"

type googleClient struct{ svc *gmail.Service }

var _ gc.Client = (*googleClient)(nil)

func NewGoogleAPIClient(svc *gmail.Service) *googleClient { return &googleClient{svc} }

func (g *googleClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	lr, err := g.svc.Users.Labels.List(me).Context(ctx).Do()
	if err != nil {
		return nil, classify("list labels", err)
	}
	out := make([]gc.Label, 0, len(lr.Labels))
	for _, l := range lr.Labels {
		out = append(out, gc.Label{ID: gc.LabelID(l.Id), Name: l.Name, Type: l.Type})
	}
	return out, nil
}

func (g *googleClient) CreateLabel(ctx context.Context, name string, vis gc.Visibility) (gc.LabelID, error) {
	label := &gmail.Label{
		Name:                  name,
		LabelListVisibility:   vis.LabelList,
		MessageListVisibility: vis.MessageList,
	}
	created, err := g.svc.Users.Labels.Create(me, label).Context(ctx).Do()
	if err != nil {
		return "", classify(fmt.Sprintf("create label %q", name), err)
	}
	return gc.LabelID(created.Id), nil
}

func (g *googleClient) List(ctx context.Context, q gc.Query, pageSize int) (gc.ListPage, error) {
	call := g.svc.Users.Messages.List(me).Q(q.Raw)
	if pageSize > 0 {
		call = call.MaxResults(int64(pageSize))
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gc.ListPage{}, classify("list messages", err)
	}
	page := gc.ListPage{NextPageToken: res.NextPageToken}
	for _, m := range res.Messages {
		page.Refs = append(page.Refs, gc.MessageRef{ID: gc.MessageID(m.Id), ThreadID: gc.ThreadID(m.ThreadId)})
	}
	return page, nil
}

func (g *googleClient) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	msg, err := g.svc.Users.Messages.Get(me, string(id)).Format("metadata").MetadataHeaders(headers...).Context(ctx).Do()
	if err != nil {
		return gc.MessageMeta{}, classify("get message", err)
	}
	h := map[string]string{}
	if msg.Payload != nil {
		for _, hd := range msg.Payload.Headers {
			if _, seen := h[hd.Name]; !seen {
				h[hd.Name] = hd.Value
			}
		}
	}
	return gc.MessageMeta{
		ID:       id,
		ThreadID: gc.ThreadID(msg.ThreadId),
		Headers:  h,
		Labels:   toLabelIDs(msg.LabelIds),
	}, nil
}

func (g *googleClient) Send(ctx context.Context, env gc.Envelope) error {
	msg := &gmail.Message{Raw: env.Raw, ThreadId: string(env.ThreadID)}
	if _, err := g.svc.Users.Messages.Send(me, msg).Context(ctx).Do(); err != nil {
		return classify("send message", err)
	}
	return nil
}

func (g *googleClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gmail.ModifyMessageRequest{
		AddLabelIds:    toStrings(ops.AddLabels),
		RemoveLabelIds: toStrings(ops.RemoveLabels),
	}
	if _, err := g.svc.Users.Messages.Modify(me, string(id), req).Context(ctx).Do(); err != nil {
		return classify("modify message", err)
	}
	return nil
}

// classify maps provider status codes onto the sentinel errors the responder checks.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusConflict:
			return fmt.Errorf("%s: %w: %w", op, gc.ErrLabelExists, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%s: %w: %w", op, gc.ErrUnauthorized, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func toStrings(ids []gc.LabelID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func toLabelIDs(ids []string) []gc.LabelID {
	out := make([]gc.LabelID, len(ids))
	for i, id := range ids {
		out[i] = gc.LabelID(id)
	}
	return out
}
