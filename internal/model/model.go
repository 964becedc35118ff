// Package model defines the domain types used across the application.
package model

import "time"

// OfferStatus is the pipeline state of an offer.
type OfferStatus string

// Offer lifecycle states. Transitions only move forward:
// pending -> processing -> sent | failed | skipped.
const (
	StatusPending    OfferStatus = "pending"
	StatusProcessing OfferStatus = "processing"
	StatusSent       OfferStatus = "sent"
	StatusFailed     OfferStatus = "failed"
	StatusSkipped    OfferStatus = "skipped"
)

// Offer represents a discovered deal progressing through the pipeline.
type Offer struct {
	ID             int64
	SourceID       int64
	UserID         int64
	Title          string
	Description    string
	OriginalURL    string
	AffiliateURL   string
	ImageURL       string
	Price          *float64
	OriginalPrice  *float64
	Discount       *int
	Platform       string
	Category       string
	Metadata       map[string]string
	Status         OfferStatus
	SentAt         *time.Time
	SentToChannels []int64
	Hash           string
	CreatedAt      time.Time
}

// SourceType identifies how a source's content is obtained.
type SourceType string

// Supported source types. Only feed sources are ingested by this core.
const (
	SourceFeed    SourceType = "feed"
	SourceScraper SourceType = "scraper"
	SourceAPI     SourceType = "api"
)

// Source is an external content feed owned by a user.
type Source struct {
	ID            int64
	UserID        int64
	Name          string
	Type          SourceType
	URL           string
	Active        bool
	LastFetchedAt *time.Time
	FetchCount    int
	ErrorCount    int
	LastError     string
	CreatedAt     time.Time
}

// RuleFilters is the closed predicate set a rule may carry.
// Every clause is optional; an absent clause always passes.
type RuleFilters struct {
	Keywords    []string `json:"keywords,omitempty"`
	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	MinDiscount *int     `json:"min_discount,omitempty"`
	Platforms   []string `json:"platforms,omitempty"`
}

// Rule routes offers from one source to one channel when its filters match.
type Rule struct {
	ID            int64
	UserID        int64
	Name          string
	SourceID      int64
	ChannelID     int64
	Filters       RuleFilters
	Priority      int
	Active        bool
	MatchCount    int
	LastMatchedAt *time.Time
	CreatedAt     time.Time
}

// ChannelTelegram is the channel type handled by the Telegram sender.
const ChannelTelegram = "telegram"

// Channel is a messaging destination owned by a user.
type Channel struct {
	ID            int64
	UserID        int64
	Name          string
	Type          string
	Config        map[string]string
	Active        bool
	MessageCount  int
	LastMessageAt *time.Time
	ErrorCount    int
	LastError     string
	CreatedAt     time.Time
}

// User carries only the fields this core reads. Account management
// lives in the external CRUD layer.
type User struct {
	ID           int64
	AffiliateIDs map[string]string
}
