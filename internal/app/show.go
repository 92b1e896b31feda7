package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"trade-sync/internal/storage"
)

// Show prints the groups overview, or recent records for one group.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.Group == "" {
		return a.showGroups(ctx, store)
	}
	return a.showRecords(ctx, store, opts)
}

func (a *App) showGroups(ctx context.Context, store *storage.Store) error {
	groups, err := store.ListGroups(ctx)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(os.Stdout, "no tracked groups found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Group\tSymbols\tTicker\tStatus\tRecords\tPairs\tLast Sync (UTC)")

	for _, g := range groups {
		lastSync := "never"
		if g.LastRun != nil {
			lastSync = g.LastRun.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			g.Name,
			strings.Join(g.Symbols, ","),
			g.Ticker,
			sanitizeInline(g.Status),
			g.RecordCount,
			g.DistinctPairs,
			lastSync,
		)
	}

	writer.Flush()
	return nil
}

func (a *App) showRecords(ctx context.Context, store *storage.Store, opts ShowOptions) error {
	group, err := findGroup(ctx, store, opts.Group)
	if err != nil {
		return err
	}

	records, err := store.ListRecentRecords(ctx, group.ID, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(os.Stdout, "no records found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date (UTC)\tPair\tType\tSide\tPrice\tAmount\tCommission\tTotal")

	for _, r := range records {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%g\t%s\t%s\n",
			r.Date.UTC().Format(time.RFC3339),
			r.Pair,
			r.OrderType,
			r.Side,
			formatDecimal(r.Price, 8),
			r.Amount,
			formatDecimal(r.Commission, 8),
			formatDecimal(r.Total, 8),
		)
	}

	writer.Flush()
	return nil
}

func findGroup(ctx context.Context, store *storage.Store, name string) (storage.TrackedGroup, error) {
	groups, err := store.ListGroups(ctx)
	if err != nil {
		return storage.TrackedGroup{}, err
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	return storage.TrackedGroup{}, fmt.Errorf("unknown group %q", name)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
