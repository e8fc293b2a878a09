package tracker

import (
	"context"
	"iter"
	"time"
)

// DefaultPageDelay is the pause between consecutive search pages.
const DefaultPageDelay = time.Second

// Paginate lazily walks search pages. It stops after an empty page, once
// Found items have been yielded, or after maxPages pages (0 = no limit).
// Errors are yielded once and end the sequence.
func Paginate(ctx context.Context, client SearchClient, query Query, maxPages int, pageDelay time.Duration) iter.Seq2[CandidateItem, error] {
	return func(yield func(CandidateItem, error) bool) {
		seen := 0
		for page := 0; maxPages <= 0 || page < maxPages; page++ {
			if page > 0 && pageDelay > 0 {
				timer := time.NewTimer(pageDelay)
				select {
				case <-ctx.Done():
					timer.Stop()
					yield(CandidateItem{}, ctx.Err())
					return
				case <-timer.C:
				}
			}

			res, err := client.Search(ctx, query, seen)
			if err != nil {
				yield(CandidateItem{}, err)
				return
			}
			if len(res.Items) == 0 {
				return
			}

			for _, item := range res.Items {
				if !yield(item, nil) {
					return
				}
			}

			seen += len(res.Items)
			if seen >= res.Found {
				return
			}
		}
	}
}

// Items adapts a fixed slice to the sequence shape Paginate returns.
func Items(items []CandidateItem) iter.Seq2[CandidateItem, error] {
	return func(yield func(CandidateItem, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}
