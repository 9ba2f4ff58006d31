package interfaces

import "context"

type UserRepository interface {
	// FindPushToken returns the user's push token, or "" when the user does
	// not exist or has no token stored.
	FindPushToken(ctx context.Context, email string) (string, error)

	// ClearPushToken removes a token the provider reported as permanently
	// invalid.
	ClearPushToken(ctx context.Context, email string) error
}
