// Package notify handles device-disconnect alerts: push notifications over
// FCM plus realtime socket events, with a per-device cooldown on pushes.
package notify

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
)

// ErrUnregisteredToken marks a token the provider reports as permanently
// invalid. The caller clears the stored token so the next alert is not wasted
// on it.
var ErrUnregisteredToken = errors.New("push token no longer registered")

// PushNote is one notification to deliver.
type PushNote struct {
	Title string
	Body  string
	Data  map[string]string
}

// PushSender delivers a notification to a single device token.
type PushSender interface {
	Send(ctx context.Context, token string, note PushNote) error
}

// FCMSender sends notifications through Firebase Cloud Messaging.
type FCMSender struct {
	client *messaging.Client
	logger *logger.Logger
}

func NewFCMSender(ctx context.Context, credentialPath string, log *logger.Logger) (*FCMSender, error) {
	var opts []option.ClientOption
	if credentialPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialPath))
	}

	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialize fcm client: %w", err)
	}

	return &FCMSender{client: client, logger: log.WithComponent("fcm")}, nil
}

func (s *FCMSender) Send(ctx context.Context, token string, note PushNote) error {
	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: note.Title,
			Body:  note.Body,
		},
		Data: note.Data,
	}

	_, err := s.client.Send(ctx, msg)
	if err != nil {
		if messaging.IsRegistrationTokenNotRegistered(err) {
			return fmt.Errorf("%w: %v", ErrUnregisteredToken, err)
		}
		return fmt.Errorf("send push: %w", err)
	}
	return nil
}
