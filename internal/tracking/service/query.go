package service

import (
	"context"
	"strings"

	"github.com/smallbiznis/attribution/internal/tracking/domain"
)

// AttributionParams projects the record into the shape sent to outbound APIs.
func (t *Tracker) AttributionParams(ctx context.Context) (domain.AttributionParams, error) {
	rec, err := t.Snapshot(ctx)
	return ParamsFrom(rec), err
}

func ParamsFrom(rec domain.Record) domain.AttributionParams {
	return domain.AttributionParams{
		SessionID:   rec.SessionID,
		EventID:     rec.EventID,
		FirstTouch:  rec.FirstTouch(),
		LastTouch:   rec.LastTouch(),
		FBClid:      rec.FBClid,
		CountryCode: rec.CountryCode,
		Currency:    rec.Currency,
		Consent:     rec.ConsentGiven,
	}
}

const maxButtonLocationBytes = 128

func (t *Tracker) SetButtonLocation(ctx context.Context, location string) (domain.Record, error) {
	location = strings.TrimSpace(location)
	if len(location) > maxButtonLocationBytes {
		location = location[:maxButtonLocationBytes]
	}
	return t.AtomicUpdate(ctx, domain.Patch{ButtonLocation: domain.String(location)})
}
