package domain

import "time"

// SchemaVersion is the record layout written by this build. Version 1 stored
// landingTime as epoch milliseconds.
const SchemaVersion = 2

// Record is the persisted attribution aggregate, one per browser.
type Record struct {
	SessionID     string    `json:"sessionId"`
	EventID       string    `json:"eventId"`
	LandingTime   time.Time `json:"landingTime,omitzero"`
	UserAgent     string    `json:"userAgent,omitempty"`
	SchemaVersion int       `json:"schemaVersion"`
	ConsentGiven  bool      `json:"consentGiven"`

	FirstReferrer     string    `json:"firstReferrer,omitempty"`
	FirstUTMSource    string    `json:"firstUtmSource,omitempty"`
	FirstUTMMedium    string    `json:"firstUtmMedium,omitempty"`
	FirstUTMCampaign  string    `json:"firstUtmCampaign,omitempty"`
	FirstUTMTerm      string    `json:"firstUtmTerm,omitempty"`
	FirstUTMContent   string    `json:"firstUtmContent,omitempty"`
	FirstReferrerTime time.Time `json:"firstReferrerTime,omitzero"`

	LastReferrer     string    `json:"lastReferrer,omitempty"`
	LastUTMSource    string    `json:"lastUtmSource,omitempty"`
	LastUTMMedium    string    `json:"lastUtmMedium,omitempty"`
	LastUTMCampaign  string    `json:"lastUtmCampaign,omitempty"`
	LastUTMTerm      string    `json:"lastUtmTerm,omitempty"`
	LastUTMContent   string    `json:"lastUtmContent,omitempty"`
	LastReferrerTime time.Time `json:"lastReferrerTime,omitzero"`

	FBClid string `json:"fbclid,omitempty"`
	FBC    string `json:"_fbc,omitempty"`
	FBP    string `json:"_fbp,omitempty"`
	FBI    string `json:"_fbi,omitempty"`

	CountryCode string `json:"countryCode,omitempty"`
	Currency    string `json:"currency,omitempty"`

	PageViewFired         bool      `json:"pageViewFired,omitempty"`
	LastPageViewSent      time.Time `json:"lastPageViewSent,omitzero"`
	InitiateCheckoutFired bool      `json:"initiateCheckoutFired,omitempty"`
	PurchaseFired         bool      `json:"purchaseFired,omitempty"`
	PurchaseTime          time.Time `json:"purchaseTime,omitzero"`

	ButtonLocation string `json:"buttonLocation,omitempty"`

	// NeedsRewrite is set by the codec when a legacy shape was normalized.
	NeedsRewrite bool `json:"-"`
}

// FirstReferrerSet reports whether the first-touch referrer group holds a real value.
func (r Record) FirstReferrerSet(placeholder string) bool {
	return r.FirstReferrer != "" && r.FirstReferrer != placeholder
}

// FirstUTMSet reports whether the first-touch UTM group holds a real value.
func (r Record) FirstUTMSet(placeholder string) bool {
	return r.FirstUTMSource != "" && r.FirstUTMSource != placeholder
}

// UTM is one set of campaign parameters. Empty means absent.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

func (u UTM) Empty() bool {
	return u == UTM{}
}

// Touch is a first- or last-touch projection of the record.
type Touch struct {
	Referrer string    `json:"referrer,omitempty"`
	UTM      UTM       `json:"utm"`
	Time     time.Time `json:"time,omitzero"`
}

func (r Record) FirstTouch() Touch {
	return Touch{
		Referrer: r.FirstReferrer,
		UTM: UTM{
			Source:   r.FirstUTMSource,
			Medium:   r.FirstUTMMedium,
			Campaign: r.FirstUTMCampaign,
			Term:     r.FirstUTMTerm,
			Content:  r.FirstUTMContent,
		},
		Time: r.FirstReferrerTime,
	}
}

func (r Record) LastTouch() Touch {
	return Touch{
		Referrer: r.LastReferrer,
		UTM: UTM{
			Source:   r.LastUTMSource,
			Medium:   r.LastUTMMedium,
			Campaign: r.LastUTMCampaign,
			Term:     r.LastUTMTerm,
			Content:  r.LastUTMContent,
		},
		Time: r.LastReferrerTime,
	}
}

// AttributionParams is the stable shape handed to outbound API calls.
type AttributionParams struct {
	SessionID   string `json:"session_id"`
	EventID     string `json:"event_id"`
	FirstTouch  Touch  `json:"first_touch"`
	LastTouch   Touch  `json:"last_touch"`
	FBClid      string `json:"fbclid,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Consent     bool   `json:"consent"`
}

// Navigation describes one page load as seen by the browser.
type Navigation struct {
	PageURL   string
	Referrer  string
	UserAgent string
}

// Experiments maps experiment name to assigned variant.
type Experiments map[string]string
