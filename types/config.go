package types

import (
	"time"
)

// RequestConfig carries the tunables of the request machinery.
type RequestConfig struct {
	// SignTimeout bounds how long an approved signing request may wait on
	// the keyring before it is failed.
	SignTimeout time.Duration
	// RejectPollInterval is how often an in-flight signing operation checks
	// whether its request was rejected out-of-band.
	RejectPollInterval time.Duration
	// ClearInterval is how often the ledger sweeps for stale entries.
	ClearInterval time.Duration
	// StaleAfter is the age past which an unresolved entry is swept.
	// Zero disables the sweep and entries wait indefinitely.
	StaleAfter time.Duration
	// NotificationQueueSize is the outbound event buffer per connection.
	NotificationQueueSize int
	// BlockNotifyInterval rate-limits subscription deliveries per chain.
	BlockNotifyInterval time.Duration
	// WindowGraceDelay is waited before closing confirmation windows once
	// no pending work remains.
	WindowGraceDelay time.Duration
}

func DefaultConfig() *RequestConfig {
	return &RequestConfig{
		SignTimeout:           time.Minute,
		RejectPollInterval:    500 * time.Millisecond,
		ClearInterval:         time.Minute * 5,
		StaleAfter:            time.Hour,
		NotificationQueueSize: 30,
		BlockNotifyInterval:   time.Second * 8,
		WindowGraceDelay:      time.Second,
	}
}
