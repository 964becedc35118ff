package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dealpipe/internal/affiliate"
	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/storage"
)

// Converter rewrites a pending offer's URL into an affiliate URL and
// advances it to processing.
type Converter struct {
	store storage.Storage
	log   *slog.Logger
}

// NewConverter creates a conversion handler.
func NewConverter(store storage.Storage, log *slog.Logger) *Converter {
	return &Converter{store: store, log: log}
}

// Handle processes one conversion job. Rewriting never blocks the
// pipeline: unsupported platforms, missing identifiers, and bad URLs
// pass the original URL through, and the offer still advances.
func (w *Converter) Handle(ctx context.Context, p queue.Payload) error {
	offer, err := w.store.GetOffer(ctx, p.OfferID)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Warn("offer not found, skipping", "offer_id", p.OfferID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get offer %d: %w", p.OfferID, err)
	}
	if offer.Status != model.StatusPending {
		w.log.Debug("offer already converted", "offer_id", offer.ID, "status", offer.Status)
		return nil
	}

	var affiliateIDs map[string]string
	user, err := w.store.GetUser(ctx, offer.UserID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		w.log.Warn("offer owner not found, passing URL through", "offer_id", offer.ID, "user_id", offer.UserID)
	case err != nil:
		return fmt.Errorf("get user %d: %w", offer.UserID, err)
	default:
		affiliateIDs = user.AffiliateIDs
	}

	affiliateURL := affiliate.Rewrite(offer.OriginalURL, offer.Platform, affiliateIDs)

	ok, err := w.store.MarkOfferProcessing(ctx, offer.ID, affiliateURL)
	if err != nil {
		return fmt.Errorf("mark offer processing: %w", err)
	}
	if !ok {
		w.log.Debug("offer left pending concurrently", "offer_id", offer.ID)
		return nil
	}

	w.log.Info("link converted", "offer_id", offer.ID, "platform", offer.Platform)
	return nil
}
