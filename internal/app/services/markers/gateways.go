package markers

import (
	"context"

	"github.com/inecat/mapads/internal/app/domain/marker"
)

// Ledger is the currency gateway the workflow charges fees against.
// Implemented by services/ledger.Service and services/ledger.Client.
type Ledger interface {
	Has(ctx context.Context, userID string, amount int64) (bool, error)
	Withdraw(ctx context.Context, userID string, amount int64) error
	Deposit(ctx context.Context, userID string, amount int64) error
}

// Reactor is one user attached to a reaction.
type Reactor struct {
	Name string
	Bot  bool
}

// Reaction is the observed state of one emblem on an approval message. Count
// includes the seed reaction placed by the service itself.
type Reaction struct {
	Emblem   string
	Count    int
	Reactors []Reactor
}

// ApprovalChannel is the moderation surface. PostApprovalRequest returns an
// opaque message reference stored on the pending marker; the reconciler feeds
// it back to FetchReactionState and DeleteMessage.
type ApprovalChannel interface {
	PostApprovalRequest(ctx context.Context, m marker.Marker, requesterName string) (string, error)
	FetchReactionState(ctx context.Context, messageRef string) ([]Reaction, error)
	DeleteMessage(ctx context.Context, messageRef string) error
	PostHistoryEntry(ctx context.Context, key, action, details string) error
	AnnounceFeatured(ctx context.Context, m marker.Marker) error
}

// MarkerMap is the presence gateway keeping map pins in sync with visible
// markers.
type MarkerMap interface {
	CreatePin(ctx context.Context, setID, key string, loc marker.Location, htmlBody string) error
	DeletePin(ctx context.Context, setID, key string) error
}

// ReactionEvent is one reaction-add observed on the approval channel.
type ReactionEvent struct {
	ChannelID   string
	MessageRef  string
	Emblem      string
	ReactorName string
	Bot         bool
}

// ReactionFeed delivers reaction-add events as they happen. The returned
// function cancels the subscription.
type ReactionFeed interface {
	SubscribeReactions(handler func(ev ReactionEvent)) (func(), error)
}

// Notifier delivers a short message to a marker owner. Deliveries are best
// effort; failures are logged and never fail a transition.
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, userID, message string) error

func (f NotifierFunc) Notify(ctx context.Context, userID, message string) error {
	return f(ctx, userID, message)
}

// Authorizer reports whether a user holds the admin capability, which lets
// them promote and delete markers they do not own.
type Authorizer func(userID string) bool
