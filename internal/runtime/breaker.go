package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/api/googleapi"

	gc "github.com/joshsymonds/vacationd/internal/gmail"
)

// BreakerSettings controls when the breaker opens and how long it stays open.
type BreakerSettings struct {
	MaxFailures uint32
	Cooldown    time.Duration
	Logger      *slog.Logger
}

// BreakerClient wraps a gc.Client with a circuit breaker. Once MaxFailures consecutive
// transport failures happen, calls fail fast with gobreaker.ErrOpenState until Cooldown passes.
type BreakerClient struct {
	next gc.Client
	cb   *gobreaker.CircuitBreaker
}

var _ gc.Client = (*BreakerClient)(nil)

func NewBreakerClient(next gc.Client, s BreakerSettings) *BreakerClient {
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = time.Minute
	}
	log := s.Logger
	if log == nil {
		log = DefaultLogger()
	}
	maxFailures := s.MaxFailures
	return &BreakerClient{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "mailbox",
			MaxRequests: 1,
			Timeout:     s.Cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			IsSuccessful: countsAsSuccess,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// countsAsSuccess keeps client-side errors from opening the breaker: they say nothing about
// the health of the remote service.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, gc.ErrLabelExists) || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
	}
	return false
}

// State returns the breaker's current state.
func (b *BreakerClient) State() gobreaker.State { return b.cb.State() }

func call[T any](b *BreakerClient, fn func() (T, error)) (T, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

func (b *BreakerClient) ListLabels(ctx context.Context) ([]gc.Label, error) {
	return call(b, func() ([]gc.Label, error) { return b.next.ListLabels(ctx) })
}

func (b *BreakerClient) CreateLabel(ctx context.Context, name string, vis gc.Visibility) (gc.LabelID, error) {
	return call(b, func() (gc.LabelID, error) { return b.next.CreateLabel(ctx, name, vis) })
}

func (b *BreakerClient) List(ctx context.Context, q gc.Query, pageSize int) (gc.ListPage, error) {
	return call(b, func() (gc.ListPage, error) { return b.next.List(ctx, q, pageSize) })
}

func (b *BreakerClient) GetMetadata(ctx context.Context, id gc.MessageID, headers []string) (gc.MessageMeta, error) {
	return call(b, func() (gc.MessageMeta, error) { return b.next.GetMetadata(ctx, id, headers) })
}

func (b *BreakerClient) Send(ctx context.Context, env gc.Envelope) error {
	_, err := call(b, func() (struct{}, error) { return struct{}{}, b.next.Send(ctx, env) })
	return err
}

func (b *BreakerClient) Modify(ctx context.Context, id gc.MessageID, ops gc.ModifyOps) error {
	_, err := call(b, func() (struct{}, error) { return struct{}{}, b.next.Modify(ctx, id, ops) })
	return err
}
