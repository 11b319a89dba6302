package domain

import "time"

// Record field names as persisted.
const (
	FieldFirstReferrer     = "firstReferrer"
	FieldFirstUTMSource    = "firstUtmSource"
	FieldFirstUTMMedium    = "firstUtmMedium"
	FieldFirstUTMCampaign  = "firstUtmCampaign"
	FieldFirstUTMTerm      = "firstUtmTerm"
	FieldFirstUTMContent   = "firstUtmContent"
	FieldFirstReferrerTime = "firstReferrerTime"

	FieldPageViewFired         = "pageViewFired"
	FieldLastPageViewSent      = "lastPageViewSent"
	FieldInitiateCheckoutFired = "initiateCheckoutFired"
	FieldPurchaseFired         = "purchaseFired"
	FieldPurchaseTime          = "purchaseTime"

	FieldFBC = "_fbc"
	FieldFBP = "_fbp"
	FieldFBI = "_fbi"
)

// FirstTouchFields may never be cleared.
var FirstTouchFields = map[string]struct{}{
	FieldFirstReferrer:     {},
	FieldFirstUTMSource:    {},
	FieldFirstUTMMedium:    {},
	FieldFirstUTMCampaign:  {},
	FieldFirstUTMTerm:      {},
	FieldFirstUTMContent:   {},
	FieldFirstReferrerTime: {},
}

// AdIdentityFields are the pixel cookies mirrored under their own names.
var AdIdentityFields = map[string]struct{}{
	FieldFBC: {},
	FieldFBP: {},
	FieldFBI: {},
}

var clearers = map[string]func(*Record){
	"lastReferrer":             func(r *Record) { r.LastReferrer = "" },
	"lastUtmSource":            func(r *Record) { r.LastUTMSource = "" },
	"lastUtmMedium":            func(r *Record) { r.LastUTMMedium = "" },
	"lastUtmCampaign":          func(r *Record) { r.LastUTMCampaign = "" },
	"lastUtmTerm":              func(r *Record) { r.LastUTMTerm = "" },
	"lastUtmContent":           func(r *Record) { r.LastUTMContent = "" },
	"lastReferrerTime":         func(r *Record) { r.LastReferrerTime = time.Time{} },
	"fbclid":                   func(r *Record) { r.FBClid = "" },
	FieldFBC:                   func(r *Record) { r.FBC = "" },
	FieldFBP:                   func(r *Record) { r.FBP = "" },
	FieldFBI:                   func(r *Record) { r.FBI = "" },
	"countryCode":              func(r *Record) { r.CountryCode = "" },
	"currency":                 func(r *Record) { r.Currency = "" },
	FieldPageViewFired:         func(r *Record) { r.PageViewFired = false },
	FieldLastPageViewSent:      func(r *Record) { r.LastPageViewSent = time.Time{} },
	FieldInitiateCheckoutFired: func(r *Record) { r.InitiateCheckoutFired = false },
	FieldPurchaseFired:         func(r *Record) { r.PurchaseFired = false },
	FieldPurchaseTime:          func(r *Record) { r.PurchaseTime = time.Time{} },
	"buttonLocation":           func(r *Record) { r.ButtonLocation = "" },
}

// IsFirstTouchField reports whether name belongs to a write-once group.
func IsFirstTouchField(name string) bool {
	_, ok := FirstTouchFields[name]
	return ok
}

// IsClearable reports whether ClearField knows name.
func IsClearable(name string) bool {
	_, ok := clearers[name]
	return ok
}

// ClearField zeroes the named field. Identity and first-touch fields are
// not clearable and report false.
func ClearField(r *Record, name string) bool {
	clear, ok := clearers[name]
	if !ok || r == nil {
		return false
	}
	clear(r)
	return true
}

// AdIdentityValue returns the record's copy of a pixel cookie.
func (r Record) AdIdentityValue(name string) string {
	switch name {
	case FieldFBC:
		return r.FBC
	case FieldFBP:
		return r.FBP
	case FieldFBI:
		return r.FBI
	default:
		return ""
	}
}

// AdIdentityPatch proposes a pixel cookie value on the record.
func AdIdentityPatch(name, value string) (Patch, bool) {
	switch name {
	case FieldFBC:
		return Patch{FBC: String(value)}, true
	case FieldFBP:
		return Patch{FBP: String(value)}, true
	case FieldFBI:
		return Patch{FBI: String(value)}, true
	default:
		return Patch{}, false
	}
}
