package dispatch

import "errors"

var (
	errMissingAppID  = errors.New("device missing app_id")
	errMissingPushkey = errors.New("device missing pushkey")
)

// Outcome is the per-device result of one pushkin dispatch attempt.
// It is always returned as a value, never raised as an error to the
// dispatcher — the taxonomy below is the one place classification happens.
type Outcome struct {
	kind    outcomeKind
	pushkey string
	reason  string
}

type outcomeKind int

const (
	kindAccepted outcomeKind = iota
	kindRejected
	kindTransientProvider
	kindTransientAuth
	kindPermanentConfig
)

// Accepted reports that the provider acknowledged the push.
func Accepted() Outcome { return Outcome{kind: kindAccepted} }

// Rejected reports that the device registration is dead. pushkey is the
// key the caller must forget — usually the one sent, sometimes a canonical
// replacement reported by the provider (e.g. FCM's canonical registration id).
func Rejected(pushkey string) Outcome { return Outcome{kind: kindRejected, pushkey: pushkey} }

// TransientProvider reports a retryable provider-side failure (5xx, 429,
// network, TLS).
func TransientProvider(reason string) Outcome {
	return Outcome{kind: kindTransientProvider, reason: reason}
}

// TransientAuth reports a mid-flight credential failure. Callers should
// retry internally once (refreshing the auth cache) before surfacing this.
func TransientAuth(reason string) Outcome {
	return Outcome{kind: kindTransientAuth, reason: reason}
}

// PermanentConfig reports a 4xx that indicates gateway misconfiguration
// (bad topic, bad project, bad VAPID key) rather than a device fault. It is
// surfaced to the caller as transient (so the operator, not the caller,
// fixes it) but callers should log it at ERROR with distinctive text.
func PermanentConfig(reason string) Outcome {
	return Outcome{kind: kindPermanentConfig, reason: reason}
}

func (o Outcome) IsAccepted() bool  { return o.kind == kindAccepted }
func (o Outcome) IsRejected() bool  { return o.kind == kindRejected }
func (o Outcome) IsTransient() bool {
	return o.kind == kindTransientProvider || o.kind == kindTransientAuth || o.kind == kindPermanentConfig
}

// Pushkey returns the pushkey to reject, valid only when IsRejected.
func (o Outcome) Pushkey() string { return o.pushkey }

// Reason returns the classification reason, valid for transient outcomes.
func (o Outcome) Reason() string { return o.reason }

// IsOperatorAttention reports whether this outcome should be logged at
// ERROR with the distinctive operator-attention marker (spec §7).
func (o Outcome) IsOperatorAttention() bool { return o.kind == kindPermanentConfig }

func (o Outcome) String() string {
	switch o.kind {
	case kindAccepted:
		return "accepted"
	case kindRejected:
		return "rejected:" + o.pushkey
	case kindTransientProvider:
		return "transient_provider:" + o.reason
	case kindTransientAuth:
		return "transient_auth:" + o.reason
	case kindPermanentConfig:
		return "permanent_config:" + o.reason
	default:
		return "unknown"
	}
}
