// Package markers implements the facility marker lifecycle: paid submission,
// reaction-driven approval, time-boxed featuring, expiry, and removal. All
// state transitions funnel through a single apply loop so decisions are
// applied exactly once.
package markers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/inecat/mapads/internal/app/domain/marker"
	"github.com/inecat/mapads/internal/app/metrics"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/pkg/logger"
)

// Config carries the workflow tariffs and pin set names.
type Config struct {
	CreationFee       int64
	FeaturedFeePerDay int64
	CurrencyName      string
	CommercialSet     string
	FeaturedSet       string
}

func (c *Config) applyDefaults() {
	if c.CreationFee <= 0 {
		c.CreationFee = 10000
	}
	if c.FeaturedFeePerDay <= 0 {
		c.FeaturedFeePerDay = 30000
	}
	if c.CurrencyName == "" {
		c.CurrencyName = "ine"
	}
	if c.CommercialSet == "" {
		c.CommercialSet = "commercial"
	}
	if c.FeaturedSet == "" {
		c.FeaturedSet = "ads"
	}
}

// Service runs the marker lifecycle. The channel and markerMap gateways may
// be nil: without a channel, Create fails with ErrChannelUnavailable; without
// a map, pin maintenance is skipped.
type Service struct {
	store     storage.MarkerStore
	ledger    Ledger
	channel   ApprovalChannel
	markerMap MarkerMap
	cfg       Config
	log       *logger.Logger

	notifier  Notifier
	authorize Authorizer
	now       func() time.Time

	loop applyLoop
}

// New constructs the workflow service.
func New(store storage.MarkerStore, ldg Ledger, channel ApprovalChannel, markerMap MarkerMap, cfg Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("markers")
	}
	cfg.applyDefaults()
	return &Service{
		store:     store,
		ledger:    ldg,
		channel:   channel,
		markerMap: markerMap,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// WithNotifier installs the owner notification hook.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithAuthorizer installs the admin capability check.
func (s *Service) WithAuthorizer(a Authorizer) *Service {
	s.authorize = a
	return s
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create charges the creation fee, posts the approval request, and persists
// the marker as PENDING. If the approval request cannot be posted the fee is
// returned and nothing is persisted.
func (s *Service) Create(ctx context.Context, ownerID, ownerName, key, description string, loc marker.Location) (marker.Marker, error) {
	var created marker.Marker
	err := s.create(ctx, ownerID, ownerName, key, description, loc, &created)
	metrics.RecordTransition("create", err)
	return created, err
}

func (s *Service) create(ctx context.Context, ownerID, ownerName, key, description string, loc marker.Location, out *marker.Marker) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("marker key is required")
	}
	if ownerID == "" {
		return fmt.Errorf("marker owner is required")
	}
	if loc.World == "" {
		return fmt.Errorf("marker location requires a world")
	}
	if s.channel == nil {
		return fmt.Errorf("create %s: %w", key, ErrChannelUnavailable)
	}

	// Duplicate and balance checks plus the fee withdrawal run inside the
	// apply loop so a concurrent create of the same key cannot interleave.
	if err := s.do(ctx, func() error {
		if _, err := s.store.GetMarker(ctx, key); err == nil {
			return fmt.Errorf("create %s: %w", key, ErrDuplicateKey)
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("create %s: %w", key, err)
		}
		ok, err := s.ledger.Has(ctx, ownerID, s.cfg.CreationFee)
		if err != nil {
			return fmt.Errorf("check balance for %s: %w", ownerID, err)
		}
		if !ok {
			return fmt.Errorf("creation fee is %d %s: %w", s.cfg.CreationFee, s.cfg.CurrencyName, ErrInsufficientFunds)
		}
		return s.ledger.Withdraw(ctx, ownerID, s.cfg.CreationFee)
	}); err != nil {
		return err
	}

	pending := marker.Marker{
		Key:         key,
		OwnerID:     ownerID,
		Location:    loc,
		Description: description,
		Status:      marker.StatusPending,
	}

	ref, err := s.channel.PostApprovalRequest(ctx, pending, ownerName)
	if err != nil {
		if depositErr := s.do(ctx, func() error {
			return s.ledger.Deposit(ctx, ownerID, s.cfg.CreationFee)
		}); depositErr != nil {
			s.log.WithError(depositErr).Errorf("refund of %d to %s failed after approval post failure", s.cfg.CreationFee, ownerID)
		}
		s.log.WithError(err).Warnf("approval request for %s could not be posted", key)
		return fmt.Errorf("post approval request for %s: %w", key, ErrChannelUnavailable)
	}
	pending.ApprovalRef = ref

	if err := s.do(ctx, func() error {
		now := s.now()
		pending.CreatedAt = now
		pending.UpdatedAt = now
		stored, err := s.store.CreateMarker(ctx, pending)
		if err != nil {
			return err
		}
		*out = stored
		return nil
	}); err != nil {
		// The key was taken between the check and the persist, or the store
		// failed. Undo the fee and the posted message.
		if depositErr := s.do(ctx, func() error {
			return s.ledger.Deposit(ctx, ownerID, s.cfg.CreationFee)
		}); depositErr != nil {
			s.log.WithError(depositErr).Errorf("refund of %d to %s failed after persist failure", s.cfg.CreationFee, ownerID)
		}
		if delErr := s.channel.DeleteMessage(ctx, ref); delErr != nil {
			s.log.WithError(delErr).Warnf("orphaned approval message %s could not be deleted", ref)
		}
		return fmt.Errorf("persist %s: %w", key, err)
	}

	s.log.WithField("key", key).WithField("owner_id", ownerID).Info("marker submitted for approval")
	return nil
}

// Approve moves a PENDING marker to APPROVED and places its commercial pin.
// A pin failure does not undo the approval; it is logged and the owner told.
func (s *Service) Approve(ctx context.Context, key, approverName string) error {
	err := s.approve(ctx, key, approverName)
	metrics.RecordTransition("approve", err)
	return err
}

func (s *Service) approve(ctx context.Context, key, approverName string) error {
	var approved marker.Marker
	if err := s.do(ctx, func() error {
		m, err := s.store.GetMarker(ctx, key)
		if err != nil {
			return fmt.Errorf("approve %s: %w", key, err)
		}
		if m.Status != marker.StatusPending {
			return fmt.Errorf("approve %s from %s: %w", key, m.Status, ErrWrongState)
		}
		m.Status = marker.StatusApproved
		m.ApprovalRef = ""
		m.UpdatedAt = s.now()
		approved, err = s.store.UpdateMarker(ctx, m)
		return err
	}); err != nil {
		return err
	}

	if err := s.createPin(ctx, s.cfg.CommercialSet, approved); err != nil {
		s.log.WithError(err).Warnf("pin for approved marker %s could not be created", key)
		s.notify(ctx, approved.OwnerID, fmt.Sprintf("your marker %q was approved but its map pin could not be placed yet", key))
	} else {
		s.notify(ctx, approved.OwnerID, fmt.Sprintf("your marker %q was approved by %s", key, approverName))
	}
	s.history(ctx, key, "approved", fmt.Sprintf("approved by %s", approverName))

	s.log.WithField("key", key).WithField("approver", approverName).Info("marker approved")
	return nil
}

// Reject removes a PENDING marker, returns the creation fee, and tears down
// the approval message. The PENDING re-check under the apply loop makes the
// refund happen at most once.
func (s *Service) Reject(ctx context.Context, key, rejectorName string) error {
	err := s.reject(ctx, key, rejectorName)
	metrics.RecordTransition("reject", err)
	return err
}

func (s *Service) reject(ctx context.Context, key, rejectorName string) error {
	var rejected marker.Marker
	if err := s.do(ctx, func() error {
		m, err := s.store.GetMarker(ctx, key)
		if err != nil {
			return fmt.Errorf("reject %s: %w", key, err)
		}
		if m.Status != marker.StatusPending {
			return fmt.Errorf("reject %s from %s: %w", key, m.Status, ErrWrongState)
		}
		if err := s.store.DeleteMarker(ctx, key); err != nil {
			return fmt.Errorf("reject %s: %w", key, err)
		}
		rejected = m
		return s.ledger.Deposit(ctx, m.OwnerID, s.cfg.CreationFee)
	}); err != nil {
		return err
	}

	s.deleteApprovalMessage(ctx, rejected.ApprovalRef)
	s.notify(ctx, rejected.OwnerID, fmt.Sprintf("your marker %q was rejected by %s, the %d %s fee was returned", key, rejectorName, s.cfg.CreationFee, s.cfg.CurrencyName))
	s.history(ctx, key, "rejected", fmt.Sprintf("rejected by %s", rejectorName))

	s.log.WithField("key", key).WithField("rejector", rejectorName).Info("marker rejected")
	return nil
}

// Promote starts a featured run: charges days times the daily fee, stamps the
// end time and promo message, and moves the pin to the featured set.
func (s *Service) Promote(ctx context.Context, requesterID, key string, days int, promoMessage string) error {
	err := s.promote(ctx, requesterID, key, days, promoMessage)
	metrics.RecordTransition("promote", err)
	return err
}

func (s *Service) promote(ctx context.Context, requesterID, key string, days int, promoMessage string) error {
	if days < 1 {
		return fmt.Errorf("featured runs are at least one day")
	}
	cost := s.cfg.FeaturedFeePerDay * int64(days)

	var featured marker.Marker
	if err := s.do(ctx, func() error {
		m, err := s.store.GetMarker(ctx, key)
		if err != nil {
			return fmt.Errorf("promote %s: %w", key, err)
		}
		if !s.allowed(requesterID, m) {
			return fmt.Errorf("promote %s: %w", key, ErrNotOwner)
		}
		switch m.Status {
		case marker.StatusPending:
			return fmt.Errorf("promote %s: not yet approved: %w", key, ErrWrongState)
		case marker.StatusFeatured:
			return fmt.Errorf("promote %s: already featured: %w", key, ErrWrongState)
		}
		ok, err := s.ledger.Has(ctx, requesterID, cost)
		if err != nil {
			return fmt.Errorf("check balance for %s: %w", requesterID, err)
		}
		if !ok {
			return fmt.Errorf("featuring costs %d %s for %d days: %w", cost, s.cfg.CurrencyName, days, ErrInsufficientFunds)
		}
		if err := s.ledger.Withdraw(ctx, requesterID, cost); err != nil {
			return err
		}

		until := s.now().Add(time.Duration(days) * 24 * time.Hour)
		m.Status = marker.StatusFeatured
		m.FeaturedUntil = &until
		m.PromoMessage = promoMessage
		m.UpdatedAt = s.now()
		featured, err = s.store.UpdateMarker(ctx, m)
		if err != nil {
			if depositErr := s.ledger.Deposit(ctx, requesterID, cost); depositErr != nil {
				s.log.WithError(depositErr).Errorf("refund of %d to %s failed after promote persist failure", cost, requesterID)
			}
			return fmt.Errorf("promote %s: %w", key, err)
		}
		return nil
	}); err != nil {
		return err
	}

	s.movePin(ctx, s.cfg.CommercialSet, s.cfg.FeaturedSet, featured)
	if err := s.channelAnnounce(ctx, featured); err != nil {
		s.log.WithError(err).Warnf("featured announcement for %s could not be posted", key)
	}

	s.log.WithField("key", key).WithField("days", days).Info("marker featured")
	return nil
}

// Expire ends a featured run whose end time has passed and returns the marker
// to APPROVED.
func (s *Service) Expire(ctx context.Context, key string) error {
	err := s.expire(ctx, key)
	metrics.RecordTransition("expire", err)
	return err
}

func (s *Service) expire(ctx context.Context, key string) error {
	var expired marker.Marker
	if err := s.do(ctx, func() error {
		m, err := s.store.GetMarker(ctx, key)
		if err != nil {
			return fmt.Errorf("expire %s: %w", key, err)
		}
		if !m.FeaturedExpired(s.now()) {
			return fmt.Errorf("expire %s: featured run still active: %w", key, ErrWrongState)
		}
		m.Status = marker.StatusApproved
		m.FeaturedUntil = nil
		m.PromoMessage = ""
		m.UpdatedAt = s.now()
		expired, err = s.store.UpdateMarker(ctx, m)
		return err
	}); err != nil {
		return err
	}

	s.movePin(ctx, s.cfg.FeaturedSet, s.cfg.CommercialSet, expired)
	s.notify(ctx, expired.OwnerID, fmt.Sprintf("the featured run for %q has ended", key))

	s.log.WithField("key", key).Info("featured run expired")
	return nil
}

// Delete removes a marker in any status. A PENDING marker refunds the
// creation fee and tears down its approval message; a visible marker loses
// its pin.
func (s *Service) Delete(ctx context.Context, requesterID, key string) error {
	err := s.delete(ctx, requesterID, key)
	metrics.RecordTransition("delete", err)
	return err
}

func (s *Service) delete(ctx context.Context, requesterID, key string) error {
	var removed marker.Marker
	if err := s.do(ctx, func() error {
		m, err := s.store.GetMarker(ctx, key)
		if err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		if !s.allowed(requesterID, m) {
			return fmt.Errorf("delete %s: %w", key, ErrNotOwner)
		}
		if err := s.store.DeleteMarker(ctx, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		removed = m
		if m.Status == marker.StatusPending {
			return s.ledger.Deposit(ctx, m.OwnerID, s.cfg.CreationFee)
		}
		return nil
	}); err != nil {
		return err
	}

	switch removed.Status {
	case marker.StatusPending:
		s.deleteApprovalMessage(ctx, removed.ApprovalRef)
	case marker.StatusApproved:
		s.deletePin(ctx, s.cfg.CommercialSet, key)
	case marker.StatusFeatured:
		s.deletePin(ctx, s.cfg.FeaturedSet, key)
	}

	s.log.WithField("key", key).WithField("requester_id", requesterID).Info("marker deleted")
	return nil
}

// Get returns one marker by key.
func (s *Service) Get(ctx context.Context, key string) (marker.Marker, error) {
	return s.store.GetMarker(ctx, key)
}

// ListOwned returns the markers created by one user.
func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]marker.Marker, error) {
	return s.store.ListByOwner(ctx, ownerID)
}

// ListApprovedKeys returns the keys of approved markers, for completion.
func (s *Service) ListApprovedKeys(ctx context.Context) ([]string, error) {
	return s.store.ListApprovedKeys(ctx)
}

// ListKeys returns every marker key.
func (s *Service) ListKeys(ctx context.Context) ([]string, error) {
	return s.store.ListKeys(ctx)
}

// helpers ---

func (s *Service) allowed(requesterID string, m marker.Marker) bool {
	if m.IsOwner(requesterID) {
		return true
	}
	return s.authorize != nil && s.authorize(requesterID)
}

func (s *Service) notify(ctx context.Context, userID, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, userID, message); err != nil {
		s.log.WithError(err).Warnf("notification to %s could not be delivered", userID)
	}
}

func (s *Service) history(ctx context.Context, key, action, details string) {
	if s.channel == nil {
		return
	}
	if err := s.channel.PostHistoryEntry(ctx, key, action, details); err != nil {
		s.log.WithError(err).Warnf("history entry for %s could not be posted", key)
	}
}

func (s *Service) channelAnnounce(ctx context.Context, m marker.Marker) error {
	if s.channel == nil {
		return nil
	}
	return s.channel.AnnounceFeatured(ctx, m)
}

func (s *Service) deleteApprovalMessage(ctx context.Context, ref string) {
	if s.channel == nil || ref == "" {
		return
	}
	if err := s.channel.DeleteMessage(ctx, ref); err != nil {
		s.log.WithError(err).Warnf("approval message %s could not be deleted", ref)
	}
}

func (s *Service) createPin(ctx context.Context, setID string, m marker.Marker) error {
	if s.markerMap == nil {
		return nil
	}
	return s.markerMap.CreatePin(ctx, setID, m.Key, m.Location, pinBody(m))
}

func (s *Service) deletePin(ctx context.Context, setID, key string) {
	if s.markerMap == nil {
		return
	}
	if err := s.markerMap.DeletePin(ctx, setID, key); err != nil {
		s.log.WithError(err).Warnf("pin %s could not be removed from set %s", key, setID)
	}
}

func (s *Service) movePin(ctx context.Context, fromSet, toSet string, m marker.Marker) {
	s.deletePin(ctx, fromSet, m.Key)
	if err := s.createPin(ctx, toSet, m); err != nil {
		s.log.WithError(err).Warnf("pin for %s could not be created in set %s", m.Key, toSet)
		s.notify(ctx, m.OwnerID, fmt.Sprintf("the map pin for %q could not be placed yet", m.Key))
	}
}

func pinBody(m marker.Marker) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<div class=\"shop\"><b>%s</b>", m.Key)
	if m.Description != "" {
		fmt.Fprintf(&b, "<br/>%s", m.Description)
	}
	if m.Status == marker.StatusFeatured && m.PromoMessage != "" {
		fmt.Fprintf(&b, "<br/><i>%s</i>", m.PromoMessage)
	}
	b.WriteString("</div>")
	return b.String()
}
