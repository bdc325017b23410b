// Package pushdevice models opaque push-notification device tokens.
package pushdevice

import "context"

// Device is one row of the push_devices table.
type Device struct {
	UserID string
	Token  string
}

// Repository is the narrow set of push device operations the notification
// dispatcher needs.
type Repository interface {
	// ListByUser returns every device token registered for userID.
	ListByUser(ctx context.Context, userID string) ([]Device, error)

	// Delete removes a device token row, used when the push provider
	// reports it as unregistered.
	Delete(ctx context.Context, userID, token string) error
}
