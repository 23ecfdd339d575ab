package markers

import (
	"context"
	"errors"
	"sync"

	"github.com/inecat/mapads/internal/app/metrics"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/internal/app/system"
	"github.com/inecat/mapads/pkg/logger"
)

// ReactionListener reacts to live reaction-add events so a decision lands
// without waiting for the next poll cycle. It is best effort: a dropped event
// is picked up by the poller.
type ReactionListener struct {
	store     storage.MarkerStore
	service   *Service
	channel   ApprovalChannel
	feed      ReactionFeed
	channelID string
	log       *logger.Logger

	mu          sync.Mutex
	unsubscribe func()
}

var _ system.Service = (*ReactionListener)(nil)

// NewReactionListener constructs the event path of the reconciler. channelID
// is the approval channel; events from any other channel are ignored.
func NewReactionListener(store storage.MarkerStore, service *Service, channel ApprovalChannel, feed ReactionFeed, channelID string, log *logger.Logger) *ReactionListener {
	if log == nil {
		log = logger.NewDefault("reaction-listener")
	}
	return &ReactionListener{
		store:     store,
		service:   service,
		channel:   channel,
		feed:      feed,
		channelID: channelID,
		log:       log,
	}
}

func (l *ReactionListener) Name() string { return "reaction-listener" }

func (l *ReactionListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe != nil {
		return nil
	}
	unsubscribe, err := l.feed.SubscribeReactions(l.handle)
	if err != nil {
		return err
	}
	l.unsubscribe = unsubscribe
	l.log.Info("reaction listener subscribed")
	return nil
}

func (l *ReactionListener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsubscribe == nil {
		return nil
	}
	l.unsubscribe()
	l.unsubscribe = nil
	return nil
}

func (l *ReactionListener) handle(ev ReactionEvent) {
	if ev.Bot {
		return
	}
	if l.channelID != "" && ev.ChannelID != l.channelID {
		return
	}

	var decision string
	switch {
	case isApproveEmblem(ev.Emblem):
		decision = decisionApprove
	case isRejectEmblem(ev.Emblem):
		decision = decisionReject
	default:
		return
	}

	ctx := context.Background()
	m, err := l.store.FindByApprovalRef(ctx, ev.MessageRef)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.log.WithError(err).Warnf("lookup of approval message %s failed", ev.MessageRef)
		}
		return
	}

	actor := ev.ReactorName
	if actor == "" {
		actor = fallbackActor
	}

	switch decision {
	case decisionApprove:
		err = l.service.Approve(ctx, m.Key, actor)
	case decisionReject:
		err = l.service.Reject(ctx, m.Key, actor)
	}
	if err != nil {
		// The poller or a concurrent event got there first.
		if !errors.Is(err, ErrWrongState) && !errors.Is(err, ErrNotFound) {
			l.log.WithError(err).Warnf("decision for %s could not be applied", m.Key)
		}
		return
	}

	metrics.RecordDecision(decision, "event")
	l.log.WithField("key", m.Key).WithField("actor", actor).Infof("marker %s via event", decision)

	if delErr := l.channel.DeleteMessage(ctx, ev.MessageRef); delErr != nil {
		l.log.WithError(delErr).Warnf("decided approval message %s could not be deleted", ev.MessageRef)
	}
}
