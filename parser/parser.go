// Package parser turns captured availability responses into records.
//
// A capture is the JSON body of one availability search response. Only the
// fields needed to build records are read; everything else is ignored, so
// payloads can grow new fields without breaking ingestion.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/buger/jsonparser"

	"availability-watcher/models"
)

const presidentialReserve = "Presidential Reserve"

// Options tunes which candidates are kept.
type Options struct {
	// SkipZeroAvailability drops inventory entries whose availableCount is 0.
	SkipZeroAvailability bool
}

// Result is the outcome of parsing one capture.
type Result struct {
	Records []models.AvailabilityRecord
	// Skipped counts inventory entries rejected for a missing or invalid field.
	Skipped int
	// NoData is set when the payload has no resorts at all.
	NoData bool
}

// ParseError reports a capture that could not be read as a response payload.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed capture: %s: %v", e.Reason, e.Err)
	}
	return "malformed capture: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a *ParseError.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Parse extracts availability records from a capture payload. It never
// panics on unexpected shapes: a payload that is not a JSON object yields
// a *ParseError and no records, and individual entries that are missing
// required fields are skipped and counted.
func Parse(data []byte, opts Options) (Result, error) {
	var res Result

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return res, &ParseError{Reason: "empty payload"}
	}
	if !json.Valid([]byte(trimmed)) {
		return res, &ParseError{Reason: "invalid JSON"}
	}
	payload := []byte(trimmed)
	if _, dt, _, _ := jsonparser.Get(payload); dt != jsonparser.Object {
		return res, &ParseError{Reason: fmt.Sprintf("top-level value is %s, want object", dt)}
	}

	resorts, dt, _, err := jsonparser.Get(payload, "resorts")
	if err != nil || dt != jsonparser.Array {
		res.NoData = true
		return res, nil
	}

	empty := true
	_, err = jsonparser.ArrayEach(resorts, func(resort []byte, dt jsonparser.ValueType, _ int, _ error) {
		empty = false
		if dt != jsonparser.Object {
			return
		}
		if !getBool(resort, "hasAvailableUnits") {
			return
		}
		eachObject(resort, func(offering []byte) {
			parseOffering(offering, opts, &res)
		}, "resortOfferings")
	})
	if err != nil {
		return Result{}, &ParseError{Reason: "resorts array", Err: err}
	}
	res.NoData = empty
	return res, nil
}

func parseOffering(offering []byte, opts Options, res *Result) {
	offeringID := getString(offering, "offeringId")
	offeringLabel := getString(offering, "offeringLabel")
	reserve := strings.Contains(offeringLabel, presidentialReserve)

	displayID := offeringID
	if reserve && offeringID != "" && !strings.Contains(offeringID, presidentialReserve) {
		displayID = offeringID + " " + presidentialReserve
	}

	// "accomdationClasses" is the payload's own spelling.
	eachObject(offering, func(class []byte) {
		eachObject(class, func(day []byte) {
			if !getBool(day, "available") {
				return
			}
			rawDate := getString(day, "date")
			eachObject(day, func(inv []byte) {
				rec, ok := buildRecord(rawDate, displayID, inv, reserve)
				if !ok {
					res.Skipped++
					return
				}
				if opts.SkipZeroAvailability && rec.AvailableCount == 0 {
					return
				}
				res.Records = append(res.Records, rec)
			}, "inventoryOfferings")
		}, "calendarDays")
	}, "accomdationClasses")
}

func buildRecord(rawDate, offeringID string, inv []byte, reserve bool) (models.AvailabilityRecord, bool) {
	if rawDate == "" || offeringID == "" {
		return models.AvailabilityRecord{}, false
	}
	date, err := models.ParseDate(rawDate)
	if err != nil {
		return models.AvailabilityRecord{}, false
	}
	hashKey := getString(inv, "inventoryOfferingHashKey")
	if hashKey == "" {
		return models.AvailabilityRecord{}, false
	}
	count, ok := getCount(inv, "availableCount")
	if !ok || count < 0 {
		return models.AvailabilityRecord{}, false
	}

	label := normaliseText(getString(inv, "invenOffrngLabel"))
	if reserve && !strings.Contains(label, presidentialReserve) {
		label = label + " (" + presidentialReserve + ")"
	}

	return models.AvailabilityRecord{
		Date:                     date,
		OfferingID:               offeringID,
		InventoryOfferingHashKey: hashKey,
		InvenOffrngLabel:         label,
		AvailableCount:           count,
	}, true
}

// eachObject calls fn for every object element of the array at keys.
// Missing keys and non-object elements are ignored.
func eachObject(data []byte, fn func([]byte), keys ...string) {
	arr, dt, _, err := jsonparser.Get(data, keys...)
	if err != nil || dt != jsonparser.Array {
		return
	}
	_, _ = jsonparser.ArrayEach(arr, func(value []byte, dt jsonparser.ValueType, _ int, _ error) {
		if dt == jsonparser.Object {
			fn(value)
		}
	})
}

func getString(data []byte, key string) string {
	value, dt, _, err := jsonparser.Get(data, key)
	if err != nil {
		return ""
	}
	switch dt {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case jsonparser.Number:
		return string(value)
	}
	return ""
}

func getBool(data []byte, key string) bool {
	value, dt, _, err := jsonparser.Get(data, key)
	if err != nil {
		return false
	}
	switch dt {
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		return err == nil && b
	case jsonparser.String:
		b, err := strconv.ParseBool(string(value))
		return err == nil && b
	}
	return false
}

// getCount accepts the count as a JSON number or a numeric string.
func getCount(data []byte, key string) (int, bool) {
	value, dt, _, err := jsonparser.Get(data, key)
	if err != nil {
		return 0, false
	}
	var raw string
	switch dt {
	case jsonparser.Number:
		raw = string(value)
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return 0, false
		}
		raw = strings.TrimSpace(s)
	default:
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// normaliseText strips leading/trailing whitespace and collapses internal whitespace.
func normaliseText(s string) string {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return unicode.IsSpace(r)
	})
	return strings.Join(fields, " ")
}
