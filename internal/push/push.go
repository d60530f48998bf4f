// Package push delivers web push notifications to users who have no live
// realtime connection.
package push

import (
	"chatterbox/internal/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const DefaultTTL = 60 * 60 * 24

type Config struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
}

func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.PrivateKey != ""
}

type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

// Payload is the JSON document delivered to the service worker.
type Payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	SenderID string `json:"senderId"`
}

func NewPayload(sender models.Contact, msg models.Message) Payload {
	title := sender.FullName
	if title == "" {
		title = "New message"
	}
	return Payload{
		Title:    title,
		Body:     msg.Preview(),
		SenderID: msg.SenderID,
	}
}

type Notifier struct {
	cfg    Config
	store  SubscriptionStore
	client webpush.HTTPClient
}

func NewNotifier(cfg Config, store SubscriptionStore) *Notifier {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Notifier{
		cfg:    cfg,
		store:  store,
		client: http.DefaultClient,
	}
}

func (n *Notifier) Enabled() bool {
	return n.cfg.Enabled()
}

func (n *Notifier) PublicKey() string {
	return n.cfg.PublicKey
}

// Notify sends msg to every subscription of userID. Subscriptions the push
// service reports as gone are deleted.
func (n *Notifier) Notify(ctx context.Context, userID string, sender models.Contact, msg models.Message) error {
	if !n.Enabled() {
		return nil
	}

	subs, err := n.store.ListPushSubscriptions(userID)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(NewPayload(sender, msg))
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}

	var errs []error
	for _, sub := range subs {
		if err := n.send(ctx, userID, payload, sub); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) send(ctx context.Context, userID string, payload []byte, sub models.PushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      n.client,
		Subscriber:      n.cfg.Subject,
		VAPIDPublicKey:  n.cfg.PublicKey,
		VAPIDPrivateKey: n.cfg.PrivateKey,
		TTL:             n.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("failed to send push to %s: %w", sub.Endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		slog.Info("removing expired push subscription", "user_id", userID, "endpoint", sub.Endpoint)
		if err := n.store.DeletePushSubscription(userID, sub.Endpoint); err != nil {
			return fmt.Errorf("failed to delete push subscription: %w", err)
		}
	case resp.StatusCode >= 400:
		return fmt.Errorf("push service %s answered %s", sub.Endpoint, resp.Status)
	}
	return nil
}
