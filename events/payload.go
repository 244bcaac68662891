package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed marks a message that can never be processed: an undecodable
// body or a payload that violates its shape. Retrying it is pointless.
var ErrMalformed = errors.New("malformed event")

func malformed(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformed, kind, fmt.Sprintf(format, args...))
}

// PagePayload is the body of page_created and page_updated.
type PagePayload struct {
	ID          int64  `json:"id"`
	Owner       int64  `json:"owner"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// FollowersBatch is the body of follower_added_all.
type FollowersBatch struct {
	PageID   int64 `json:"page_id"`
	Quantity int64 `json:"quantity"`
}

// DecodePage decodes a page payload; id and owner are required.
func DecodePage(kind Kind, body []byte) (PagePayload, error) {
	var raw struct {
		ID          json.RawMessage `json:"id"`
		Owner       json.RawMessage `json:"owner"`
		Name        string          `json:"name"`
		Description *string         `json:"description"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return PagePayload{}, malformed(kind, "%v", err)
	}
	if raw.ID == nil || raw.Owner == nil {
		return PagePayload{}, malformed(kind, "id and owner are required")
	}
	id, err := parseID(raw.ID)
	if err != nil {
		return PagePayload{}, malformed(kind, "id: %v", err)
	}
	owner, err := parseID(raw.Owner)
	if err != nil {
		return PagePayload{}, malformed(kind, "owner: %v", err)
	}
	p := PagePayload{ID: id, Owner: owner, Name: raw.Name}
	if raw.Description != nil {
		p.Description = *raw.Description
	}
	return p, nil
}

// DecodePageID decodes a bare page id. The upstream publisher sends it either
// as a JSON number or as a JSON string of digits.
func DecodePageID(kind Kind, body []byte) (int64, error) {
	id, err := parseID(bytes.TrimSpace(body))
	if err != nil {
		return 0, malformed(kind, "page id: %v", err)
	}
	return id, nil
}

// DecodeFollowersBatch decodes a follower_added_all payload; quantity must not be negative.
func DecodeFollowersBatch(kind Kind, body []byte) (FollowersBatch, error) {
	var raw struct {
		PageID   json.RawMessage `json:"page_id"`
		Quantity json.RawMessage `json:"quantity"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return FollowersBatch{}, malformed(kind, "%v", err)
	}
	if raw.PageID == nil || raw.Quantity == nil {
		return FollowersBatch{}, malformed(kind, "page_id and quantity are required")
	}
	pageID, err := parseID(raw.PageID)
	if err != nil {
		return FollowersBatch{}, malformed(kind, "page_id: %v", err)
	}
	qty, err := parseInt(raw.Quantity)
	if err != nil {
		return FollowersBatch{}, malformed(kind, "quantity: %v", err)
	}
	if qty < 0 {
		return FollowersBatch{}, malformed(kind, "quantity %d is negative", qty)
	}
	return FollowersBatch{PageID: pageID, Quantity: qty}, nil
}

func parseID(raw json.RawMessage) (int64, error) {
	id, err := parseInt(raw)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("%d is not a valid id", id)
	}
	return id, nil
}

// parseInt accepts 12, "12" and 12.0 but not 12.5.
func parseInt(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, errors.New("empty value")
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
	} else {
		s = string(raw)
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return int64(f), nil
}
