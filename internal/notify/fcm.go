package notify

import (
	"context"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// Messenger is the subset of the FCM client used by PushSink.
type Messenger interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// PushSink sends FCM push notifications to the recipients' devices.
type PushSink struct {
	client Messenger
}

// NewPushSink wraps an FCM client.
func NewPushSink(client Messenger) *PushSink {
	return &PushSink{client: client}
}

// NewFirebaseSink initializes the Firebase app from a service account file.
func NewFirebaseSink(ctx context.Context, credentialsFile string) (*PushSink, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}
	return NewPushSink(client), nil
}

// Name identifies the sink in logs and metrics.
func (s *PushSink) Name() string { return "fcm" }

// Deliver sends one multicast message to every device token of the recipients.
func (s *PushSink) Deliver(ctx context.Context, n Notification) error {
	var tokens []string
	for _, u := range n.Recipients {
		tokens = append(tokens, u.PushTokens...)
	}
	if len(tokens) == 0 {
		return nil
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data: map[string]string{
			"request_id": n.Event.RequestID,
			"vehicle_id": n.Event.VehicleID,
			"site_id":    n.Event.SiteID,
			"action":     n.Event.Action,
			"status":     string(n.Event.To),
			"timestamp":  n.Event.At.Format(time.RFC3339),
		},
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
	}

	resp, err := s.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	if resp.FailureCount > 0 {
		return fmt.Errorf("%d of %d push deliveries failed", resp.FailureCount, len(tokens))
	}
	return nil
}
