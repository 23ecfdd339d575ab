package markers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/metrics"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/internal/app/system"
	"github.com/inecat/mapads/pkg/logger"
)

const (
	decisionApprove = "approve"
	decisionReject  = "reject"

	// fallbackActor labels a decision when no non-bot reactor is visible in
	// the sampled reaction state.
	fallbackActor = "moderator"
)

func isApproveEmblem(e string) bool { return e == "✅" || e == "white_check_mark" }
func isRejectEmblem(e string) bool  { return e == "❌" || e == "x" }

// ReactionPoller walks the PENDING markers on an interval, reads the reaction
// state of each approval message, and applies any quorum decision through the
// workflow. It is the authoritative reconciliation path; the event listener
// only shortens the latency.
type ReactionPoller struct {
	store    storage.MarkerStore
	service  *Service
	channel  ApprovalChannel
	interval time.Duration
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*ReactionPoller)(nil)

// NewReactionPoller constructs the poll path of the reconciler.
func NewReactionPoller(store storage.MarkerStore, service *Service, channel ApprovalChannel, interval time.Duration, log *logger.Logger) *ReactionPoller {
	if log == nil {
		log = logger.NewDefault("reaction-poller")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &ReactionPoller{
		store:    store,
		service:  service,
		channel:  channel,
		interval: interval,
		log:      log,
	}
}

func (p *ReactionPoller) Name() string { return "reaction-poller" }

func (p *ReactionPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.running = true

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.tick(runCtx)
			}
		}
	}()

	p.log.Info("reaction poller started")
	return nil
}

func (p *ReactionPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (p *ReactionPoller) tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.RecordPoll(time.Since(start)) }()

	pending, err := p.store.ListByStatus(ctx, marker.StatusPending)
	if err != nil {
		p.log.WithError(err).Warn("list pending markers failed")
		return
	}

	for _, m := range pending {
		if m.ApprovalRef == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		reactions, err := p.channel.FetchReactionState(ctx, m.ApprovalRef)
		if err != nil {
			p.log.WithError(err).Warnf("reaction state for %s unavailable", m.Key)
			continue
		}

		decision, actor, ok := decide(reactions)
		if !ok {
			continue
		}
		p.apply(ctx, m.Key, m.ApprovalRef, decision, actor, "poll")
	}
}

func (p *ReactionPoller) apply(ctx context.Context, key, ref, decision, actor, source string) {
	var err error
	switch decision {
	case decisionApprove:
		err = p.service.Approve(ctx, key, actor)
	case decisionReject:
		err = p.service.Reject(ctx, key, actor)
	}
	if err != nil {
		// Another path already decided, or the marker is gone. The message
		// cleanup below still applies; anything else retries next cycle.
		if !errors.Is(err, ErrWrongState) && !errors.Is(err, ErrNotFound) {
			p.log.WithError(err).Warnf("decision for %s could not be applied", key)
			return
		}
	} else {
		metrics.RecordDecision(decision, source)
		p.log.WithField("key", key).WithField("actor", actor).Infof("marker %s via %s", decision, source)
	}

	if delErr := p.channel.DeleteMessage(ctx, ref); delErr != nil {
		p.log.WithError(delErr).Warnf("decided approval message %s could not be deleted", ref)
	}
}

// decide evaluates a reaction state against the quorum rule: an emblem counts
// once a second reaction joins the seed. Approval is evaluated before
// rejection, so a tie approves.
func decide(reactions []Reaction) (decision, actor string, ok bool) {
	var approve, reject *Reaction
	for i := range reactions {
		switch {
		case isApproveEmblem(reactions[i].Emblem):
			approve = &reactions[i]
		case isRejectEmblem(reactions[i].Emblem):
			reject = &reactions[i]
		}
	}

	if approve != nil && approve.Count > 1 {
		return decisionApprove, actorName(*approve), true
	}
	if reject != nil && reject.Count > 1 {
		return decisionReject, actorName(*reject), true
	}
	return "", "", false
}

func actorName(r Reaction) string {
	for _, reactor := range r.Reactors {
		if !reactor.Bot {
			return reactor.Name
		}
	}
	return fallbackActor
}
