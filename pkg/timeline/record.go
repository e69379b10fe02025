// Package timeline parses bookmark timeline pages into normalized item records.
//
// The remote schema is not under our control and changes without notice, so
// parsing is path-based and tolerant: missing fields yield zero values and a
// page without the expected structure degrades to an empty result.
package timeline

import (
	"encoding/json"
	"time"
)

// CreatedAtLayout is the timestamp format used by the remote API
// ("Wed Oct 10 20:19:24 +0000 2018").
const CreatedAtLayout = time.RubyDate

// ItemRecord is one imported bookmark. Records are immutable once created.
type ItemRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Images    []string  `json:"images,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	User      Author    `json:"user"`

	// Raw is the original tweet payload, kept for forward compatibility.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Author describes the account that posted an item.
type Author struct {
	Name           string `json:"name"`
	ScreenName     string `json:"screen_name"`
	ProfileImage   string `json:"profile_image"`
	Verified       bool   `json:"verified"`
	IsBlueVerified bool   `json:"is_blue_verified"`
}
