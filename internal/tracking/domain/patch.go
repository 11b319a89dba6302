package domain

import "time"

// Patch is a set of proposed field updates. A nil field is not proposed.
type Patch struct {
	SessionID     *string
	EventID       *string
	LandingTime   *time.Time
	UserAgent     *string
	SchemaVersion *int
	ConsentGiven  *bool

	FirstReferrer     *string
	FirstUTMSource    *string
	FirstUTMMedium    *string
	FirstUTMCampaign  *string
	FirstUTMTerm      *string
	FirstUTMContent   *string
	FirstReferrerTime *time.Time

	LastReferrer     *string
	LastUTMSource    *string
	LastUTMMedium    *string
	LastUTMCampaign  *string
	LastUTMTerm      *string
	LastUTMContent   *string
	LastReferrerTime *time.Time

	FBClid *string
	FBC    *string
	FBP    *string
	FBI    *string

	CountryCode *string
	Currency    *string

	PageViewFired         *bool
	LastPageViewSent      *time.Time
	InitiateCheckoutFired *bool
	PurchaseFired         *bool
	PurchaseTime          *time.Time

	ButtonLocation *string
}

func String(v string) *string     { return &v }
func Bool(v bool) *bool           { return &v }
func Int(v int) *int              { return &v }
func Time(v time.Time) *time.Time { return &v }

// HasLastTouch reports whether the patch proposes any last-touch field.
func (p Patch) HasLastTouch() bool {
	return p.LastReferrer != nil || p.LastUTMSource != nil || p.LastUTMMedium != nil ||
		p.LastUTMCampaign != nil || p.LastUTMTerm != nil || p.LastUTMContent != nil ||
		p.LastReferrerTime != nil
}

// WithoutLastTouch returns a copy with every last-touch field unset.
func (p Patch) WithoutLastTouch() Patch {
	p.LastReferrer = nil
	p.LastUTMSource = nil
	p.LastUTMMedium = nil
	p.LastUTMCampaign = nil
	p.LastUTMTerm = nil
	p.LastUTMContent = nil
	p.LastReferrerTime = nil
	return p
}

// ApplyTo overlays every proposed value onto r.
func (p Patch) ApplyTo(r *Record) {
	setString(&r.SessionID, p.SessionID)
	setString(&r.EventID, p.EventID)
	setTime(&r.LandingTime, p.LandingTime)
	setString(&r.UserAgent, p.UserAgent)
	if p.SchemaVersion != nil {
		r.SchemaVersion = *p.SchemaVersion
	}
	setBool(&r.ConsentGiven, p.ConsentGiven)

	setString(&r.FirstReferrer, p.FirstReferrer)
	setString(&r.FirstUTMSource, p.FirstUTMSource)
	setString(&r.FirstUTMMedium, p.FirstUTMMedium)
	setString(&r.FirstUTMCampaign, p.FirstUTMCampaign)
	setString(&r.FirstUTMTerm, p.FirstUTMTerm)
	setString(&r.FirstUTMContent, p.FirstUTMContent)
	setTime(&r.FirstReferrerTime, p.FirstReferrerTime)

	setString(&r.LastReferrer, p.LastReferrer)
	setString(&r.LastUTMSource, p.LastUTMSource)
	setString(&r.LastUTMMedium, p.LastUTMMedium)
	setString(&r.LastUTMCampaign, p.LastUTMCampaign)
	setString(&r.LastUTMTerm, p.LastUTMTerm)
	setString(&r.LastUTMContent, p.LastUTMContent)
	setTime(&r.LastReferrerTime, p.LastReferrerTime)

	setString(&r.FBClid, p.FBClid)
	setString(&r.FBC, p.FBC)
	setString(&r.FBP, p.FBP)
	setString(&r.FBI, p.FBI)

	setString(&r.CountryCode, p.CountryCode)
	setString(&r.Currency, p.Currency)

	setBool(&r.PageViewFired, p.PageViewFired)
	setTime(&r.LastPageViewSent, p.LastPageViewSent)
	setBool(&r.InitiateCheckoutFired, p.InitiateCheckoutFired)
	setBool(&r.PurchaseFired, p.PurchaseFired)
	setTime(&r.PurchaseTime, p.PurchaseTime)

	setString(&r.ButtonLocation, p.ButtonLocation)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst *time.Time, v *time.Time) {
	if v != nil {
		*dst = v.UTC()
	}
}
