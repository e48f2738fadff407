package scheduling

import "context"

// Notifier announces a committed booking. Delivery failures are reported in
// the result, never as an error.
type Notifier interface {
	NotifyBooked(ctx context.Context, notice BookingNotice) NotifyResult
}

// NopNotifier delivers nothing.
type NopNotifier struct{}

func (NopNotifier) NotifyBooked(context.Context, BookingNotice) NotifyResult {
	return NotifyResult{}
}
