package jit

import (
	"encoding/json"
	"fmt"
	"time"
)

const queryTimeLayout = "2006-01-02 15:04:05"

// Query is one aggregated query-log row reported by a driver: who ran what,
// how often, and when it was first and last seen.
type Query struct {
	UserHost    string    `json:"user_host"`
	FirstSeen   time.Time `json:"-"`
	LastSeen    time.Time `json:"-"`
	CommandType string    `json:"command_type"`
	Count       int       `json:"count"`
	Text        string    `json:"query"`
}

// ToMap renders the entry with formatted timestamps, the shape stored in
// session audit records.
func (q Query) ToMap() map[string]any {
	return map[string]any{
		"user_host":       q.UserHost,
		"first_timestamp": q.FirstSeen.Format(queryTimeLayout),
		"last_timestamp":  q.LastSeen.Format(queryTimeLayout),
		"command_type":    q.CommandType,
		"count":           q.Count,
		"query":           q.Text,
	}
}

// QueryFromMap is the inverse of ToMap.
func QueryFromMap(m map[string]any) (Query, error) {
	q := Query{
		UserHost:    stringField(m, "user_host"),
		CommandType: stringField(m, "command_type"),
		Text:        stringField(m, "query"),
	}

	switch v := m["count"].(type) {
	case int:
		q.Count = v
	case float64:
		q.Count = int(v)
	case json.Number:
		n, _ := v.Int64()
		q.Count = int(n)
	}

	var err error
	if q.FirstSeen, err = time.Parse(queryTimeLayout, stringField(m, "first_timestamp")); err != nil {
		return Query{}, fmt.Errorf("invalid first_timestamp: %w", err)
	}
	if q.LastSeen, err = time.Parse(queryTimeLayout, stringField(m, "last_timestamp")); err != nil {
		return Query{}, fmt.Errorf("invalid last_timestamp: %w", err)
	}
	return q, nil
}

// MarshalJSON stores timestamps in the same format ToMap uses so audit
// payloads round-trip.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.ToMap())
}

func (q *Query) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := QueryFromMap(m)
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
