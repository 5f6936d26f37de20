package gmail

import (
	"context"
	"errors"
)

// Client is the narrow mailbox surface required by vacationd.
type Client interface {
	ListLabels(ctx context.Context) ([]Label, error)
	CreateLabel(ctx context.Context, name string, vis Visibility) (LabelID, error)
	List(ctx context.Context, q Query, pageSize int) (ListPage, error)
	GetMetadata(ctx context.Context, id MessageID, headers []string) (MessageMeta, error)
	Send(ctx context.Context, env Envelope) error
	Modify(ctx context.Context, id MessageID, ops ModifyOps) error
}

var (
	// ErrLabelExists is returned by CreateLabel when a label with the same name already exists.
	ErrLabelExists = errors.New("label already exists")
	// ErrUnauthorized marks credential failures (expired or revoked tokens, bad app passwords).
	ErrUnauthorized = errors.New("mailbox access unauthorized")
)
