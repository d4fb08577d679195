package storage

import (
	"context"
	"errors"

	"github.com/alejandrodnm/goaltrader/internal/domain"
	"github.com/alejandrodnm/goaltrader/internal/ports"
)

// Tee fans every record out to all of its journals.
type Tee []ports.Journal

// NewTee drops nil journals.
func NewTee(journals ...ports.Journal) Tee {
	t := make(Tee, 0, len(journals))
	for _, j := range journals {
		if j != nil {
			t = append(t, j)
		}
	}
	return t
}

func (t Tee) RecordActivity(ctx context.Context, a domain.GoalActivity) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordActivity(ctx, a))
	}
	return errors.Join(errs...)
}

func (t Tee) RecordClosedTrade(ctx context.Context, p domain.ManagedPosition) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordClosedTrade(ctx, p))
	}
	return errors.Join(errs...)
}

func (t Tee) RecordRedemption(ctx context.Context, o domain.RedeemOutcome) error {
	var errs []error
	for _, j := range t {
		errs = append(errs, j.RecordRedemption(ctx, o))
	}
	return errors.Join(errs...)
}
