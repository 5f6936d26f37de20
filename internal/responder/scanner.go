package responder

import (
	"context"
	"fmt"

	"github.com/joshsymonds/vacationd/internal/gmail"
	"github.com/joshsymonds/vacationd/internal/rate"
)

const (
	defaultPageSize = 100
	maxPageSize     = 500
)

// UnhandledQuery matches mail that is not a chat, not sent by the account owner and not
// carrying any user label. The completion label is a user label, so answered mail drops out.
func UnhandledQuery() gmail.Query {
	return gmail.Query{Raw: "-in:chats -from:me -has:userlabels"}
}

// Scanner lists candidate messages, one page per call.
type Scanner struct {
	Client   gmail.Client
	Limiter  rate.Limiter
	Query    gmail.Query
	PageSize int
}

// NewScanner returns a Scanner using UnhandledQuery.
func NewScanner(client gmail.Client, limiter rate.Limiter, pageSize int) *Scanner {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return &Scanner{Client: client, Limiter: limiter, Query: UnhandledQuery(), PageSize: pageSize}
}

// FindCandidates returns the first page of unhandled messages. No matches is an empty
// slice and a nil error.
func (s *Scanner) FindCandidates(ctx context.Context) ([]gmail.MessageRef, error) {
	if err := wait(ctx, s.Limiter, "rate limit list messages"); err != nil {
		return nil, err
	}
	page, err := s.Client.List(ctx, s.Query, s.PageSize)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	if len(page.Refs) == 0 {
		return []gmail.MessageRef{}, nil
	}
	return page.Refs, nil
}
