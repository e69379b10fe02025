package testutil

import (
	"encoding/json"
	"fmt"
)

// TimelinePage builds a bookmarks timeline page with count tweets whose ids
// start at startID. An empty bottomCursor omits the bottom cursor entry.
func TimelinePage(startID, count int, bottomCursor string) []byte {
	entries := make([]any, 0, count+2)
	for i := 0; i < count; i++ {
		entries = append(entries, TweetEntry(fmt.Sprintf("%d", startID+i)))
	}

	entries = append(entries, map[string]any{
		"entryId": "cursor-top-1",
		"content": map[string]any{"entryType": "TimelineTimelineCursor", "value": "top", "cursorType": "Top"},
	})
	if bottomCursor != "" {
		entries = append(entries, map[string]any{
			"entryId": "cursor-bottom-1",
			"content": map[string]any{"entryType": "TimelineTimelineCursor", "value": bottomCursor, "cursorType": "Bottom"},
		})
	}

	return mustMarshal(wrapInstructions([]any{
		map[string]any{"type": "TimelineAddEntries", "entries": entries},
	}))
}

// EmptyInstructionsPage builds a page whose instruction has no entries array.
func EmptyInstructionsPage() []byte {
	return mustMarshal(wrapInstructions([]any{
		map[string]any{"type": "TimelineClearCache"},
	}))
}

// TweetEntry builds a single timeline entry holding a tweet with the given id.
func TweetEntry(id string) map[string]any {
	return map[string]any{
		"entryId": "tweet-" + id,
		"content": map[string]any{
			"entryType": "TimelineTimelineItem",
			"itemContent": map[string]any{
				"itemType": "TimelineTweet",
				"tweet_results": map[string]any{
					"result": map[string]any{
						"__typename": "Tweet",
						"rest_id":    id,
						"core": map[string]any{
							"user_results": map[string]any{
								"result": map[string]any{
									"__typename":       "User",
									"is_blue_verified": true,
									"legacy": map[string]any{
										"name":                    "Test User",
										"screen_name":             "testuser",
										"profile_image_url_https": "https://pbs.twimg.com/profile_images/1/avatar.jpg",
										"verified":                false,
									},
								},
							},
						},
						"legacy": map[string]any{
							"id_str":     id,
							"full_text":  "Bookmarked tweet " + id,
							"created_at": "Wed Oct 10 20:19:24 +0000 2018",
							"extended_entities": map[string]any{
								"media": []any{
									map[string]any{"type": "photo", "media_url_https": "https://pbs.twimg.com/media/" + id + ".jpg"},
								},
							},
						},
					},
				},
			},
		},
	}
}

func wrapInstructions(instructions []any) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"bookmark_timeline_v2": map[string]any{
				"timeline": map[string]any{
					"instructions": instructions,
				},
			},
		},
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
