package chat

import "time"

// Message is one chat line as stored by the history log and broadcast to
// clients. The hub assigns ID and Timestamp; values are never edited after
// creation.
type Message struct {
	ID        int64     `json:"id"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Seed provides the messages the relay starts with.
func Seed() []Message {
	return []Message{
		{ID: 1, User: "Alice", Text: "Hey team, morning!", Timestamp: seedTime("2025-07-29T08:01:00Z")},
		{ID: 2, User: "Bob", Text: "Morning Alice!", Timestamp: seedTime("2025-07-29T08:01:15Z")},
		{ID: 3, User: "Charlie", Text: "Anyone up for lunch later?", Timestamp: seedTime("2025-07-29T08:02:00Z")},
		{ID: 4, User: "Alice", Text: "Count me in.", Timestamp: seedTime("2025-07-29T08:02:10Z")},
		{ID: 5, User: "Bob", Text: "Same here!", Timestamp: seedTime("2025-07-29T08:02:20Z")},
	}
}

func seedTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		panic(err)
	}
	return t
}
