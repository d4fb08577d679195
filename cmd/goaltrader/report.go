package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/goaltrader/internal/adapters/notify"
	"github.com/alejandrodnm/goaltrader/internal/adapters/storage"
)

const reportRedemptions = 20

// runReport prints the journaled trade history.
func runReport(ctx context.Context, journal *storage.SQLiteJournal, console *notify.Console, window time.Duration) error {
	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}

	stats, err := journal.Stats(ctx)
	if err != nil {
		return fmt.Errorf("runReport: %w", err)
	}
	trades, err := journal.ClosedTrades(ctx, since)
	if err != nil {
		return fmt.Errorf("runReport: %w", err)
	}
	redemptions, err := journal.Redemptions(ctx, reportRedemptions)
	if err != nil {
		return fmt.Errorf("runReport: %w", err)
	}

	console.PrintReport(notify.ReportInput{
		Since:       since,
		Stats:       stats,
		Trades:      trades,
		Redemptions: redemptions,
	})
	return nil
}
