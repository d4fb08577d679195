package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type submission struct {
	path int
	ack  domain.OrderAck
	err  error
}

// race posts the identical signed order over RaceWidth independent requests.
// The exchange deduplicates identical orders, so at most one is expected to
// fill. The first structurally valid success wins; stragglers are left to
// finish on their own and their results are discarded.
func (e *Executor) race(ctx context.Context, order domain.SignedOrder) (domain.OrderAck, error) {
	width := e.cfg.RaceWidth

	// Stragglers must outlive the winner, so they do not inherit ctx's cancellation.
	raceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SubmitTimeout)

	results := make(chan submission, width)
	var wg sync.WaitGroup
	for i := 0; i < width; i++ {
		wg.Add(1)
		go func(path int) {
			defer wg.Done()
			ack, err := e.exchange.SubmitOrder(raceCtx, order)
			results <- submission{path: path, ack: ack, err: err}
		}(i)
	}
	go func() {
		wg.Wait()
		cancel()
	}()

	var errs []error
	for received := 0; received < width; {
		select {
		case r := <-results:
			received++
			if r.err == nil && validAck(r.ack) {
				slog.Debug("exec: race won", "path", r.path, "order_id", r.ack.OrderID)
				return r.ack, nil
			}
			if r.err == nil {
				r.err = fmt.Errorf("rejected: status=%q msg=%q", r.ack.Status, r.ack.ErrorMsg)
			}
			errs = append(errs, fmt.Errorf("path %d: %w", r.path, r.err))
		case <-ctx.Done():
			return domain.OrderAck{}, fmt.Errorf("%w: %v", ErrSubmission, ctx.Err())
		}
	}
	return domain.OrderAck{}, fmt.Errorf("%w: %w", ErrSubmission, errors.Join(errs...))
}

func validAck(ack domain.OrderAck) bool {
	return ack.Success && ack.OrderID != "" && ack.ErrorMsg == ""
}
