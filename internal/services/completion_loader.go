package services

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"scadenze/internal/core"
	"scadenze/internal/ports"
)

const defaultLoaderConcurrency = 4

// CompletionLoader fetches the completion records of a range of months and
// unions them.
type CompletionLoader struct {
	reader      ports.CompletionReader
	concurrency int
}

func NewCompletionLoader(reader ports.CompletionReader, concurrency int) *CompletionLoader {
	if concurrency <= 0 {
		concurrency = defaultLoaderConcurrency
	}
	return &CompletionLoader{reader: reader, concurrency: concurrency}
}

// Load unions the records of every month in months. The first failing fetch
// cancels the rest.
func (l *CompletionLoader) Load(ctx context.Context, months []core.YearMonth) (core.CompletionSet, error) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	var (
		mu     sync.Mutex
		result = make(core.CompletionSet)
	)
	for _, ym := range months {
		g.Go(func() error {
			set, err := l.reader.FetchCompletedOccurrenceIDs(ctx, ym)
			if err != nil {
				return fmt.Errorf("fetch completions for %s: %w", ym, err)
			}
			mu.Lock()
			for id := range set {
				result.Add(id)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// LoadFor loads the completion window the resolver needs for asOf.
func (l *CompletionLoader) LoadFor(ctx context.Context, r *NextDueResolver, asOf core.Date) (core.CompletionSet, error) {
	return l.Load(ctx, r.Months(asOf))
}
