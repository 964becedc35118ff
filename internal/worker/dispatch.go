package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dealpipe/internal/channel"
	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/rule"
	"dealpipe/internal/storage"
)

// Dispatcher evaluates a source's rules in priority order and routes
// matching offers to their channels.
type Dispatcher struct {
	store    storage.Storage
	registry *channel.Registry
	log      *slog.Logger
}

// NewDispatcher creates a dispatch handler.
func NewDispatcher(store storage.Storage, registry *channel.Registry, log *slog.Logger) *Dispatcher {
	return &Dispatcher{store: store, registry: registry, log: log}
}

// Handle processes one dispatch job. A send failure on one channel is
// recorded on that channel and never blocks dispatch to the others; an
// unexpected error marks the offer failed and propagates for retry
// accounting.
func (w *Dispatcher) Handle(ctx context.Context, p queue.Payload) error {
	offer, err := w.store.GetOffer(ctx, p.OfferID)
	if errors.Is(err, storage.ErrNotFound) {
		w.log.Warn("offer not found, skipping", "offer_id", p.OfferID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get offer %d: %w", p.OfferID, err)
	}
	if offer.Status != model.StatusProcessing {
		w.log.Debug("offer not ready for dispatch", "offer_id", offer.ID, "status", offer.Status)
		return nil
	}

	sentTo, err := w.dispatch(ctx, offer)
	if err != nil {
		if merr := w.store.MarkOfferFailed(ctx, offer.ID); merr != nil {
			w.log.Error("mark offer failed", "offer_id", offer.ID, "error", merr)
		}
		return fmt.Errorf("dispatch offer %d: %w", offer.ID, err)
	}

	status := model.StatusSkipped
	var sentAt *time.Time
	if len(sentTo) > 0 {
		status = model.StatusSent
		now := time.Now().UTC()
		sentAt = &now
	}

	ok, err := w.store.FinalizeOfferDispatch(ctx, offer.ID, status, sentAt, sentTo)
	if err != nil {
		return fmt.Errorf("finalize offer %d: %w", offer.ID, err)
	}
	if !ok {
		w.log.Debug("offer finalized concurrently", "offer_id", offer.ID)
		return nil
	}

	w.log.Info("offer dispatched", "offer_id", offer.ID, "status", status, "channels", len(sentTo))
	return nil
}

// dispatch evaluates every active rule of the offer's source in
// priority order and returns the channel ids that received the offer.
func (w *Dispatcher) dispatch(ctx context.Context, offer *model.Offer) ([]int64, error) {
	rules, err := w.store.ListActiveRulesBySource(ctx, offer.SourceID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	var sentTo []int64
	for _, r := range rules {
		if !rule.Matches(offer, r.Filters) {
			w.log.Debug("offer does not match rule", "offer_id", offer.ID, "rule_id", r.ID)
			continue
		}

		ch, err := w.store.GetChannel(ctx, r.ChannelID)
		if errors.Is(err, storage.ErrNotFound) {
			w.log.Warn("rule channel missing", "rule_id", r.ID, "channel_id", r.ChannelID)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get channel %d: %w", r.ChannelID, err)
		}
		if !ch.Active {
			w.log.Warn("rule channel inactive", "rule_id", r.ID, "channel_id", ch.ID)
			continue
		}

		sender, ok := w.registry.Lookup(ch.Type)
		if !ok {
			w.log.Warn("no sender for channel type", "channel_id", ch.ID, "type", ch.Type)
			continue
		}

		if err := sender.Send(ctx, offer, ch.Config); err != nil {
			w.log.Error("channel send failed", "offer_id", offer.ID, "channel_id", ch.ID, "error", err)
			if rerr := w.store.RecordChannelError(ctx, ch.ID, err.Error()); rerr != nil {
				w.log.Error("record channel error", "channel_id", ch.ID, "error", rerr)
			}
			continue
		}

		sentTo = append(sentTo, ch.ID)
		now := time.Now().UTC()
		if err := w.store.RecordChannelSend(ctx, ch.ID, now); err != nil {
			w.log.Error("record channel send", "channel_id", ch.ID, "error", err)
		}
		if err := w.store.RecordRuleMatch(ctx, r.ID, now); err != nil {
			w.log.Error("record rule match", "rule_id", r.ID, "error", err)
		}
	}
	return sentTo, nil
}
