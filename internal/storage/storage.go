// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"dealpipe/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateOffer is returned when an offer with the same hash already exists.
var ErrDuplicateOffer = errors.New("duplicate offer")

// Storage is the interface for all persistence operations.
//
// Counter updates (fetch_count, message_count, match_count, error_count)
// are single atomic UPDATE statements, and offer status advances are
// guarded by the expected current status so that duplicate jobs from
// overlapping scheduler sweeps become no-ops.
type Storage interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)

	CreateSource(ctx context.Context, s *model.Source) error
	GetSource(ctx context.Context, id int64) (*model.Source, error)
	ListActiveFeedSources(ctx context.Context) ([]model.Source, error)
	RecordFetchSuccess(ctx context.Context, id int64, at time.Time) error
	RecordFetchError(ctx context.Context, id int64, msg string) error

	CreateChannel(ctx context.Context, c *model.Channel) error
	GetChannel(ctx context.Context, id int64) (*model.Channel, error)
	RecordChannelSend(ctx context.Context, id int64, at time.Time) error
	RecordChannelError(ctx context.Context, id int64, msg string) error

	CreateRule(ctx context.Context, r *model.Rule) error
	ListActiveRulesBySource(ctx context.Context, sourceID int64) ([]model.Rule, error)
	RecordRuleMatch(ctx context.Context, id int64, at time.Time) error

	CreateOffer(ctx context.Context, o *model.Offer) error
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)
	OfferHashExists(ctx context.Context, hash string) (bool, error)
	ListOffersByStatus(ctx context.Context, status model.OfferStatus, limit int) ([]model.Offer, error)
	MarkOfferProcessing(ctx context.Context, id int64, affiliateURL string) (bool, error)
	FinalizeOfferDispatch(ctx context.Context, id int64, status model.OfferStatus, sentAt *time.Time, sentToChannels []int64) (bool, error)
	MarkOfferFailed(ctx context.Context, id int64) error

	Close() error
}
