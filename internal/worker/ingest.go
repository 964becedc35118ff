// Package worker implements the job handlers of the offer pipeline:
// feed ingestion, affiliate link conversion, and rule-matched dispatch.
//
// Handlers are safe to run for stale or duplicate jobs: a missing
// entity or one already past the expected stage is a logged no-op, not
// an error, so at-least-once enqueueing from the scheduler never
// corrupts pipeline state.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dealpipe/internal/extract"
	"dealpipe/internal/fetcher"
	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/storage"
)

// Ingester fetches a source's feed and creates pending offers.
type Ingester struct {
	store   storage.Storage
	fetcher *fetcher.Fetcher
	log     *slog.Logger
}

// NewIngester creates an ingestion handler.
func NewIngester(store storage.Storage, f *fetcher.Fetcher, log *slog.Logger) *Ingester {
	return &Ingester{store: store, fetcher: f, log: log}
}

// Handle processes one ingestion job. Fetch and storage failures at
// the source level propagate so the queue's retry accounting applies;
// per-item failures are counted as skips and never abort the run.
func (w *Ingester) Handle(ctx context.Context, p queue.Payload) error {
	src, err := w.store.GetSource(ctx, p.SourceID)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Warn("source not found, skipping", "source_id", p.SourceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get source %d: %w", p.SourceID, err)
	}
	if !src.Active {
		w.log.Warn("source inactive, skipping", "source_id", src.ID)
		return nil
	}
	if src.Type != model.SourceFeed {
		w.log.Warn("source type not ingestible, skipping", "source_id", src.ID, "type", src.Type)
		return nil
	}

	items, err := w.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		if rerr := w.store.RecordFetchError(ctx, src.ID, err.Error()); rerr != nil {
			w.log.Error("record fetch error", "source_id", src.ID, "error", rerr)
		}
		return fmt.Errorf("fetch source %d: %w", src.ID, err)
	}

	created, skipped := 0, 0
	for _, item := range items {
		if item.URL == "" {
			skipped++
			continue
		}
		ok, err := w.ingestItem(ctx, src, item)
		if err != nil {
			w.log.Error("ingest item", "source_id", src.ID, "title", item.Title, "error", err)
			skipped++
			continue
		}
		if ok {
			created++
		} else {
			skipped++
		}
	}

	if err := w.store.RecordFetchSuccess(ctx, src.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("record fetch success: %w", err)
	}

	w.log.Info("feed ingested", "source_id", src.ID, "created", created, "skipped", skipped)
	return nil
}

// ingestItem creates an offer for one feed item. Returns false without
// error when the item was already seen.
func (w *Ingester) ingestItem(ctx context.Context, src *model.Source, item fetcher.Item) (bool, error) {
	hash := extract.URLHash(item.URL)

	exists, err := w.store.OfferHashExists(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("check hash: %w", err)
	}
	if exists {
		return false, nil
	}

	text := item.Title + " " + item.Description
	offer := &model.Offer{
		SourceID:    src.ID,
		UserID:      src.UserID,
		Title:       item.Title,
		Description: item.Description,
		OriginalURL: item.URL,
		ImageURL:    item.ImageURL,
		Price:       extract.Price(text),
		Discount:    extract.Discount(text),
		Platform:    extract.Platform(item.URL),
		Metadata:    item.Metadata,
		Status:      model.StatusPending,
		Hash:        hash,
	}

	err = w.store.CreateOffer(ctx, offer)
	if errors.Is(err, storage.ErrDuplicateOffer) {
		// Lost a race with a concurrent ingestion of the same URL.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create offer: %w", err)
	}
	return true, nil
}
