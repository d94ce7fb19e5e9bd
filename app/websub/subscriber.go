package websub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castpoll/castpoll/app/database"
)

// ErrInvalidCallback rejects a verification request with a missing or
// mismatched parameter. The HTTP layer maps it to a 404 so hubs cannot probe
// which subscription ids exist.
var ErrInvalidCallback = errors.New("invalid websub callback")

// MaxBodySize caps content-delivery bodies.
const MaxBodySize = 1 << 20

const (
	// MaxRequests bounds subscribe attempts for a subscription that never
	// gets verified. The counter resets on verification.
	MaxRequests = 3

	// renewalWindow selects verified subscriptions whose lease is about
	// to lapse.
	renewalWindow = time.Hour

	renewBatchSize = 100
)

// IngestEnqueuer hands a feed to the work dispatcher for immediate re-fetch.
type IngestEnqueuer interface {
	EnqueueIngest(feedID int64, force bool)
}

// Subscriber drives the per-subscription state machine:
// unset -> requested -> subscribed | denied -> (lease expires) -> re-request.
type Subscriber struct {
	subs         database.SubscriptionRepository
	client       *http.Client
	enqueuer     IngestEnqueuer
	callbackBase string
	leaseSeconds int
}

func NewSubscriber(subs database.SubscriptionRepository, enqueuer IngestEnqueuer, callbackBase string, leaseSeconds int, timeout time.Duration) *Subscriber {
	return &Subscriber{
		subs: subs,
		client: &http.Client{
			Timeout: timeout,
		},
		enqueuer:     enqueuer,
		callbackBase: callbackBase,
		leaseSeconds: leaseSeconds,
	}
}

// Subscribe sends a subscribe or unsubscribe request to the hub with a
// freshly generated secret. A 202 means the hub will verify asynchronously;
// any other 2xx is treated as immediate acceptance of the requested mode.
func (s *Subscriber) Subscribe(ctx context.Context, sub *database.Subscription, mode string) error {
	secret := uuid.NewString()

	form := url.Values{
		"hub.mode":          {mode},
		"hub.topic":         {sub.Topic},
		"hub.callback":      {s.callbackURL(sub.ID)},
		"hub.secret":        {secret},
		"hub.lease_seconds": {strconv.Itoa(s.leaseSeconds)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Hub, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		s.recordSubscribeError(ctx, sub, err.Error())
		return fmt.Errorf("failed to reach hub: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		exception := fmt.Sprintf("hub returned status %d", resp.StatusCode)
		s.recordSubscribeError(ctx, sub, exception)
		return errors.New(exception)
	}

	status := database.SubscriptionStatusRequested
	if resp.StatusCode != http.StatusAccepted {
		// Immediate acceptance, no async verification coming.
		status = statusForMode(mode)
	}

	if err := s.subs.RecordSubscribeRequest(ctx, sub.ID, secret, status, time.Now()); err != nil {
		return fmt.Errorf("failed to record subscribe request: %w", err)
	}

	slog.Info("Websub subscribe requested", "subscription_id", sub.ID, "hub", sub.Hub, "mode", mode, "status", status)
	return nil
}

// Verify handles the hub's GET handshake. The topic must match the
// subscription exactly; anything missing or mismatched is rejected without
// mutating subscription state. On success the returned challenge must be
// echoed back verbatim.
func (s *Subscriber) Verify(ctx context.Context, subscriptionID, mode, topic, challenge string, leaseSeconds int) (string, error) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return "", fmt.Errorf("failed to load subscription: %w", err)
	}
	if sub == nil {
		return "", ErrInvalidCallback
	}

	if topic == "" || topic != sub.Topic {
		s.recordVerifyError(ctx, sub, fmt.Sprintf("topic mismatch: %q", topic))
		return "", ErrInvalidCallback
	}

	switch mode {
	case "subscribe":
		if challenge == "" || leaseSeconds <= 0 {
			s.recordVerifyError(ctx, sub, "missing challenge or lease")
			return "", ErrInvalidCallback
		}
		expiresAt := time.Now().Add(time.Duration(leaseSeconds) * time.Second)
		if err := s.subs.SetVerified(ctx, sub.ID, database.SubscriptionStatusSubscribed, &expiresAt); err != nil {
			return "", fmt.Errorf("failed to mark subscribed: %w", err)
		}
	case "unsubscribe":
		if err := s.subs.SetVerified(ctx, sub.ID, database.SubscriptionStatusUnsubscribed, nil); err != nil {
			return "", fmt.Errorf("failed to mark unsubscribed: %w", err)
		}
	case "denied":
		if err := s.subs.SetVerified(ctx, sub.ID, database.SubscriptionStatusDenied, nil); err != nil {
			return "", fmt.Errorf("failed to mark denied: %w", err)
		}
	default:
		s.recordVerifyError(ctx, sub, fmt.Sprintf("unknown mode: %q", mode))
		return "", ErrInvalidCallback
	}

	slog.Info("Websub verification handled", "subscription_id", sub.ID, "mode", mode)
	return challenge, nil
}

// HandleDelivery processes a content push. A valid signature enqueues exactly
// one forced re-ingest of the feed; an invalid one is recorded and otherwise
// ignored. The HTTP layer answers 2xx either way so delivery outcomes reveal
// nothing about secrets or known subscription ids.
func (s *Subscriber) HandleDelivery(ctx context.Context, subscriptionID, signature string, body []byte) {
	sub, err := s.subs.GetSubscription(ctx, subscriptionID)
	if err != nil {
		slog.Error("Failed to load subscription", "subscription_id", subscriptionID, "error", err)
		return
	}
	if sub == nil {
		slog.Debug("Delivery for unknown subscription", "subscription_id", subscriptionID)
		return
	}

	if !CheckSignature(signature, body, sub.Secret) {
		s.recordVerifyError(ctx, sub, "invalid delivery signature")
		return
	}

	s.enqueuer.EnqueueIngest(sub.FeedID, true)
	slog.Info("Websub delivery accepted", "subscription_id", sub.ID, "feed_id", sub.FeedID)
}

// RenewDue re-subscribes every subscription whose lease is about to lapse
// plus unverified ones still under the request budget. Individual failures
// are recorded on their own rows and do not stop the sweep.
func (s *Subscriber) RenewDue(ctx context.Context) error {
	due, err := s.subs.ListRenewable(ctx, renewalWindow, MaxRequests, renewBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list renewable subscriptions: %w", err)
	}

	for n := range due {
		if err := s.Subscribe(ctx, &due[n], "subscribe"); err != nil {
			slog.Warn("Websub renewal failed", "subscription_id", due[n].ID, "error", err)
		}
	}

	if len(due) > 0 {
		slog.Info("Websub renewal sweep finished", "count", len(due))
	}
	return nil
}

func (s *Subscriber) callbackURL(subscriptionID string) string {
	return fmt.Sprintf("%s/websub/%s", s.callbackBase, subscriptionID)
}

func (s *Subscriber) recordSubscribeError(ctx context.Context, sub *database.Subscription, exception string) {
	if err := s.subs.RecordSubscribeError(ctx, sub.ID, exception); err != nil {
		slog.Error("Failed to record subscribe error", "subscription_id", sub.ID, "error", err)
	}
}

func (s *Subscriber) recordVerifyError(ctx context.Context, sub *database.Subscription, exception string) {
	if err := s.subs.RecordVerifyError(ctx, sub.ID, exception); err != nil {
		slog.Error("Failed to record verify error", "subscription_id", sub.ID, "error", err)
	}
}

func statusForMode(mode string) string {
	if mode == "unsubscribe" {
		return database.SubscriptionStatusUnsubscribed
	}
	return database.SubscriptionStatusSubscribed
}
