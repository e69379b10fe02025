package timeline

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

const (
	// InstructionsPath locates the instruction list in a bookmarks page.
	InstructionsPath = "data.bookmark_timeline_v2.timeline.instructions"

	// BottomCursorPrefix marks the entry carrying the next-page cursor.
	BottomCursorPrefix = "cursor-bottom-"
)

var (
	// ErrInvalidPayload indicates the page body is not valid JSON.
	ErrInvalidPayload = errors.New("invalid page payload")

	// ErrNoEntries indicates the page has no entries array where one was expected.
	ErrNoEntries = errors.New("no entries found")
)

var extractAnomaliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bookmarks_extract_anomalies_total",
	Help: "Total number of malformed or unexpected timeline pages by reason",
}, []string{"reason"})

// Result is the outcome of extracting one page.
type Result struct {
	Items []ItemRecord

	// NextCursor is empty when no bottom cursor entry exists.
	NextCursor string

	// Anomaly is set when the page did not have the expected structure.
	// It is informational; Items and NextCursor are still valid (possibly empty).
	Anomaly error
}

// Extract parses one raw page. It never fails: structural problems are
// reported through Result.Anomaly with an empty item list.
func Extract(raw []byte) Result {
	if !gjson.ValidBytes(raw) {
		extractAnomaliesTotal.WithLabelValues("invalid_json").Inc()
		return Result{Items: []ItemRecord{}, Anomaly: ErrInvalidPayload}
	}

	entries := findEntries(gjson.ParseBytes(raw))
	if !entries.IsArray() {
		extractAnomaliesTotal.WithLabelValues("no_entries").Inc()
		return Result{Items: []ItemRecord{}, Anomaly: ErrNoEntries}
	}

	result := Result{Items: []ItemRecord{}}
	entries.ForEach(func(_, entry gjson.Result) bool {
		entryID := entry.Get("entryId").String()
		if strings.HasPrefix(entryID, BottomCursorPrefix) {
			result.NextCursor = entry.Get("content.value").String()
			return true
		}
		if item, ok := transformEntry(entry); ok {
			result.Items = append(result.Items, item)
		}
		return true
	})

	return result
}

// findEntries returns the entries of the TimelineAddEntries instruction,
// falling back to the first instruction.
func findEntries(doc gjson.Result) gjson.Result {
	instructions := doc.Get(InstructionsPath)
	if !instructions.IsArray() {
		return gjson.Result{}
	}

	for _, instruction := range instructions.Array() {
		if instruction.Get("type").String() == "TimelineAddEntries" {
			return instruction.Get("entries")
		}
	}
	return instructions.Get("0.entries")
}

// parseCreatedAt parses a legacy created_at value. An absent value yields the
// zero time without error.
func parseCreatedAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(CreatedAtLayout, raw)
}

// transformEntry converts a timeline entry holding a tweet into an ItemRecord.
// Non-tweet entries (cursors, modules, tombstones) are skipped.
func transformEntry(entry gjson.Result) (ItemRecord, bool) {
	tweet := entry.Get("content.itemContent.tweet_results.result")
	if tweet.Get("__typename").String() == "TweetWithVisibilityResults" {
		tweet = tweet.Get("tweet")
	}

	legacy := tweet.Get("legacy")
	if !legacy.Exists() {
		return ItemRecord{}, false
	}

	id := firstString(legacy.Get("id_str"), tweet.Get("rest_id"))
	if id == "" {
		return ItemRecord{}, false
	}

	content := firstString(
		tweet.Get("note_tweet.note_tweet_results.result.text"),
		legacy.Get("full_text"),
		legacy.Get("text"),
	)

	var images []string
	legacy.Get("extended_entities.media").ForEach(func(_, media gjson.Result) bool {
		if url := media.Get("media_url_https").String(); url != "" {
			images = append(images, url)
		}
		return true
	})

	createdAt, err := parseCreatedAt(legacy.Get("created_at").String())
	if err != nil {
		extractAnomaliesTotal.WithLabelValues("bad_timestamp").Inc()
		log.Debug().Err(err).
			Str("component", "timeline").
			Str("tweet_id", id).
			Msg("Unparsable created_at, leaving it zero")
	}

	user := tweet.Get("core.user_results.result")
	author := Author{
		Name:         firstString(user.Get("legacy.name"), user.Get("core.name")),
		ScreenName:   firstString(user.Get("legacy.screen_name"), user.Get("core.screen_name")),
		ProfileImage: firstString(user.Get("legacy.profile_image_url_https"), user.Get("avatar.image_url")),
		Verified: user.Get("legacy.verified").Bool() ||
			user.Get("verification.verified").Bool(),
		IsBlueVerified: user.Get("is_blue_verified").Bool(),
	}

	return ItemRecord{
		ID:        id,
		Content:   content,
		Images:    images,
		CreatedAt: createdAt,
		User:      author,
		Raw:       json.RawMessage(tweet.Raw),
	}, true
}

func firstString(results ...gjson.Result) string {
	for _, r := range results {
		if s := r.String(); s != "" {
			return s
		}
	}
	return ""
}
