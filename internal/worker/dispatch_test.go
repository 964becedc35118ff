package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"dealpipe/internal/channel"
	"dealpipe/internal/model"
	"dealpipe/internal/queue"
	"dealpipe/internal/storage"
)

// fakeSender records sends by chat id and can fail selected chats.
type fakeSender struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]bool
}

func (f *fakeSender) Send(_ context.Context, _ *model.Offer, config map[string]string) error {
	chat := config["chat_id"]
	if f.fails[chat] {
		return errors.New("transport down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, chat)
	return nil
}

func newDispatcher(t *testing.T, store *storage.SQLite, sender channel.Sender) *Dispatcher {
	t.Helper()
	registry := channel.NewRegistry()
	if err := registry.Register(model.ChannelTelegram, sender); err != nil {
		t.Fatalf("register sender: %v", err)
	}
	return NewDispatcher(store, registry, testLogger())
}

func seedChannel(t *testing.T, s *storage.SQLite, userID int64, chat string, active bool) *model.Channel {
	t.Helper()
	ch := model.Channel{
		UserID: userID,
		Name:   "chan " + chat,
		Type:   model.ChannelTelegram,
		Config: map[string]string{"bot_token": "tok", "chat_id": chat},
		Active: active,
	}
	if err := s.CreateChannel(context.Background(), &ch); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	return &ch
}

func seedRule(t *testing.T, s *storage.SQLite, src *model.Source, channelID int64, priority int, filters model.RuleFilters) *model.Rule {
	t.Helper()
	r := model.Rule{
		UserID:    src.UserID,
		Name:      "rule",
		SourceID:  src.ID,
		ChannelID: channelID,
		Filters:   filters,
		Priority:  priority,
		Active:    true,
	}
	if err := s.CreateRule(context.Background(), &r); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return &r
}

func seedProcessingOffer(t *testing.T, s *storage.SQLite, src *model.Source, hash string, discount *int) *model.Offer {
	t.Helper()
	o := model.Offer{
		SourceID:    src.ID,
		UserID:      src.UserID,
		Title:       "Echo Dot 5",
		Description: "Smart speaker com Alexa",
		OriginalURL: "https://www.amazon.com.br/dp/B0ABC",
		Platform:    "amazon",
		Discount:    discount,
		Status:      model.StatusPending,
		Hash:        hash,
	}
	if err := s.CreateOffer(context.Background(), &o); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := s.MarkOfferProcessing(context.Background(), o.ID, o.OriginalURL); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	return &o
}

func TestDispatchFollowsPriorityOrder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	chanA := seedChannel(t, store, userID, "chat-A", true)
	chanB := seedChannel(t, store, userID, "chat-B", true)
	ruleA := seedRule(t, store, src, chanA.ID, 10, model.RuleFilters{})
	ruleB := seedRule(t, store, src, chanB.ID, 5, model.RuleFilters{})

	offer := seedProcessingOffer(t, store, src, "h1", nil)

	sender := &fakeSender{}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: offer.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if diff := cmp.Diff([]string{"chat-A", "chat-B"}, sender.sent); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}

	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if got.SentAt == nil {
		t.Error("sentAt not set")
	}
	if diff := cmp.Diff([]int64{chanA.ID, chanB.ID}, got.SentToChannels); diff != "" {
		t.Errorf("sentToChannels mismatch (-want +got):\n%s", diff)
	}

	for _, tc := range []struct {
		ruleID int64
		chanID int64
	}{
		{ruleA.ID, chanA.ID},
		{ruleB.ID, chanB.ID},
	} {
		rules, err := store.ListActiveRulesBySource(ctx, src.ID)
		if err != nil {
			t.Fatalf("list rules: %v", err)
		}
		for _, r := range rules {
			if r.ID == tc.ruleID && r.MatchCount != 1 {
				t.Errorf("rule %d matchCount = %d, want 1", r.ID, r.MatchCount)
			}
		}
		ch, err := store.GetChannel(ctx, tc.chanID)
		if err != nil {
			t.Fatalf("get channel: %v", err)
		}
		if ch.MessageCount != 1 {
			t.Errorf("channel %d messageCount = %d, want 1", ch.ID, ch.MessageCount)
		}
		if ch.LastMessageAt == nil {
			t.Errorf("channel %d lastMessageAt not set", ch.ID)
		}
	}
}

func TestDispatchSkipsInactiveChannel(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	chanA := seedChannel(t, store, userID, "chat-A", true)
	chanB := seedChannel(t, store, userID, "chat-B", false)
	seedRule(t, store, src, chanA.ID, 10, model.RuleFilters{})
	seedRule(t, store, src, chanB.ID, 5, model.RuleFilters{})

	offer := seedProcessingOffer(t, store, src, "h1", nil)

	sender := &fakeSender{}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: offer.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if diff := cmp.Diff([]int64{chanA.ID}, got.SentToChannels); diff != "" {
		t.Errorf("sentToChannels mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatchIsolatesChannelFailure(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	chanA := seedChannel(t, store, userID, "chat-A", true)
	chanB := seedChannel(t, store, userID, "chat-B", true)
	seedRule(t, store, src, chanA.ID, 10, model.RuleFilters{})
	seedRule(t, store, src, chanB.ID, 5, model.RuleFilters{})

	offer := seedProcessingOffer(t, store, src, "h1", nil)

	sender := &fakeSender{fails: map[string]bool{"chat-A": true}}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: offer.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusSent {
		t.Errorf("status = %s, want sent despite one channel failing", got.Status)
	}
	if diff := cmp.Diff([]int64{chanB.ID}, got.SentToChannels); diff != "" {
		t.Errorf("sentToChannels mismatch (-want +got):\n%s", diff)
	}

	failed, err := store.GetChannel(ctx, chanA.ID)
	if err != nil {
		t.Fatalf("get channel: %v", err)
	}
	if failed.ErrorCount != 1 {
		t.Errorf("failed channel errorCount = %d, want 1", failed.ErrorCount)
	}
	if failed.LastError == "" {
		t.Error("failed channel lastError not recorded")
	}
}

func TestDispatchNoMatchIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	ch := seedChannel(t, store, userID, "chat-A", true)
	minDiscount := 20
	seedRule(t, store, src, ch.ID, 10, model.RuleFilters{MinDiscount: &minDiscount})

	// No discount extracted, so the minimum-discount clause fails.
	offer := seedProcessingOffer(t, store, src, "h1", nil)

	sender := &fakeSender{}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: offer.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("sends = %v, want none", sender.sent)
	}
	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusSkipped {
		t.Errorf("status = %s, want skipped", got.Status)
	}
	if got.SentAt != nil {
		t.Error("sentAt set on skipped offer")
	}
}

func TestDispatchStaleOfferIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	o := model.Offer{
		SourceID:    src.ID,
		UserID:      userID,
		Title:       "deal",
		OriginalURL: "https://example.com/deal",
		Status:      model.StatusPending,
		Hash:        "h1",
	}
	if err := store.CreateOffer(ctx, &o); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	sender := &fakeSender{}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: o.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := w.Handle(ctx, queue.Payload{OfferID: 999}); err != nil {
		t.Fatalf("handle missing offer: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Errorf("sends = %v, want none", sender.sent)
	}
	got, err := store.GetOffer(ctx, o.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Errorf("status = %s, want untouched pending", got.Status)
	}
}

func TestDispatchMissingChannelIsSkippedWithWarning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	userID := seedUser(t, store, nil)
	src := seedSource(t, store, userID, model.SourceFeed, true)

	seedRule(t, store, src, 999, 10, model.RuleFilters{})
	offer := seedProcessingOffer(t, store, src, "h1", nil)

	sender := &fakeSender{}
	w := newDispatcher(t, store, sender)
	if err := w.Handle(ctx, queue.Payload{OfferID: offer.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, err := store.GetOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("get offer: %v", err)
	}
	if got.Status != model.StatusSkipped {
		t.Errorf("status = %s, want skipped", got.Status)
	}
}
