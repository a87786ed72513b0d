package service

import "time"

// Policy holds the timing rules of admission and cancellation.
type Policy struct {
	// CompetingWindow is W in [scheduled_at-W, scheduled_at+W].
	CompetingWindow time.Duration
	// InstantWindow is the pickup horizon of instant bookings.
	InstantWindow time.Duration
	MinLeadTime   time.Duration
	MaxLeadTime   time.Duration
	// ChargingCreditLead is the minimum lead time before charging batteries count.
	ChargingCreditLead time.Duration
	// LateCancelWindow locks cancellation in the last minutes before pickup.
	LateCancelWindow time.Duration
	// ReadmitOnUpdate re-runs admission when a pending reservation is rescheduled.
	ReadmitOnUpdate bool
	LockTimeout     time.Duration
	NotifyTimeout   time.Duration
	MaxNotesLength  int
}

// DefaultPolicy returns the production timing rules.
func DefaultPolicy() Policy {
	return Policy{
		CompetingWindow:    30 * time.Minute,
		InstantWindow:      15 * time.Minute,
		MinLeadTime:        30 * time.Minute,
		MaxLeadTime:        12 * time.Hour,
		ChargingCreditLead: time.Hour,
		LateCancelWindow:   15 * time.Minute,
		LockTimeout:        5 * time.Second,
		NotifyTimeout:      5 * time.Second,
		MaxNotesLength:     500,
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.CompetingWindow <= 0 {
		p.CompetingWindow = def.CompetingWindow
	}
	if p.InstantWindow <= 0 {
		p.InstantWindow = def.InstantWindow
	}
	if p.MinLeadTime <= 0 {
		p.MinLeadTime = def.MinLeadTime
	}
	if p.MaxLeadTime <= 0 {
		p.MaxLeadTime = def.MaxLeadTime
	}
	if p.ChargingCreditLead <= 0 {
		p.ChargingCreditLead = def.ChargingCreditLead
	}
	if p.LateCancelWindow <= 0 {
		p.LateCancelWindow = def.LateCancelWindow
	}
	if p.LockTimeout <= 0 {
		p.LockTimeout = def.LockTimeout
	}
	if p.NotifyTimeout <= 0 {
		p.NotifyTimeout = def.NotifyTimeout
	}
	if p.MaxNotesLength <= 0 {
		p.MaxNotesLength = def.MaxNotesLength
	}
	return p
}
