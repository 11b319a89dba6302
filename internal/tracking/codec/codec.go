// Package codec converts tracking records to and from their stored string form.
//
// The current form is "v2." followed by base64url(snappy(json)). Decoding
// also accepts bare JSON and URL-escaped JSON, which older cookies used, and
// normalizes the version 1 shape where landingTime was epoch milliseconds.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/smallbiznis/attribution/internal/tracking/domain"
)

const prefix = "v2."

type recordAlias domain.Record

type wireRecord struct {
	recordAlias
	LandingTime   json.RawMessage `json:"landingTime"`
	ConsentGiven  *bool           `json:"consentGiven"`
	SchemaVersion int             `json:"schemaVersion"`
}

// EncodeRecord serializes r into its stored form.
func EncodeRecord(r domain.Record) (string, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	return wrap(payload), nil
}

// DecodeRecord parses a stored value. Any malformed input yields ok=false so
// callers treat it as absent and reseed.
func DecodeRecord(raw string) (domain.Record, bool) {
	payload, ok := unwrap(raw)
	if !ok {
		return domain.Record{}, false
	}

	var wire wireRecord
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.Record{}, false
	}

	record := domain.Record(wire.recordAlias)
	if strings.TrimSpace(record.SessionID) == "" {
		return domain.Record{}, false
	}

	landing, legacy, ok := decodeLandingTime(wire.LandingTime)
	if !ok {
		return domain.Record{}, false
	}
	record.LandingTime = landing

	record.ConsentGiven = true
	if wire.ConsentGiven != nil {
		record.ConsentGiven = *wire.ConsentGiven
	}

	record.SchemaVersion = wire.SchemaVersion
	if legacy || record.SchemaVersion < domain.SchemaVersion {
		record.SchemaVersion = domain.SchemaVersion
		record.NeedsRewrite = true
	}

	return record, true
}

// EncodeExperiments serializes an experiment assignment map.
func EncodeExperiments(exp domain.Experiments) (string, error) {
	if exp == nil {
		exp = domain.Experiments{}
	}
	payload, err := json.Marshal(exp)
	if err != nil {
		return "", fmt.Errorf("encode experiments: %w", err)
	}
	return wrap(payload), nil
}

// DecodeExperiments parses a stored experiment map; malformed input yields ok=false.
func DecodeExperiments(raw string) (domain.Experiments, bool) {
	payload, ok := unwrap(raw)
	if !ok {
		return nil, false
	}
	var exp domain.Experiments
	if err := json.Unmarshal(payload, &exp); err != nil || exp == nil {
		return nil, false
	}
	return exp, true
}

func wrap(payload []byte) string {
	return prefix + base64.RawURLEncoding.EncodeToString(snappy.Encode(nil, payload))
}

func unwrap(raw string) ([]byte, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, false
	case strings.HasPrefix(raw, prefix):
		compressed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(raw, prefix))
		if err != nil {
			return nil, false
		}
		payload, err := snappy.Decode(nil, compressed)
		if err != nil {
			return nil, false
		}
		return payload, true
	case strings.HasPrefix(raw, "{"):
		return []byte(raw), true
	case strings.HasPrefix(raw, "%7B"), strings.HasPrefix(raw, "%7b"):
		unescaped, err := url.QueryUnescape(raw)
		if err != nil {
			return nil, false
		}
		return []byte(unescaped), true
	default:
		return nil, false
	}
}

func decodeLandingTime(raw json.RawMessage) (time.Time, bool, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, false, true
	}
	if raw[0] == '"' {
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return time.Time{}, false, false
		}
		return t.UTC(), false, true
	}

	var millis float64
	if err := json.Unmarshal(raw, &millis); err != nil || millis <= 0 || math.IsInf(millis, 0) {
		return time.Time{}, false, false
	}
	return time.UnixMilli(int64(millis)).UTC(), true, true
}
