package model

import (
	"fmt"
	"strings"
	"time"
)

type InteractionType string

const (
	InteractionLike    InteractionType = "like"
	InteractionRetweet InteractionType = "retweet"
	InteractionReply   InteractionType = "reply"
)

// ParseInteractionTypes parses a comma-separated list of interaction types,
// e.g. "like,retweet,reply". Unknown values are rejected so a typo in
// configuration fails at startup instead of silently disabling a type.
func ParseInteractionTypes(s string) ([]InteractionType, error) {
	var types []InteractionType
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t := InteractionType(strings.ToLower(part))
		switch t {
		case InteractionLike, InteractionRetweet, InteractionReply:
			types = append(types, t)
		default:
			return nil, fmt.Errorf("unknown interaction type %q", part)
		}
	}
	return types, nil
}

// InteractionRecord marks that one interaction type has been applied to one
// post. At most one record exists per (PostID, Type) pair; records are
// write-once.
type InteractionRecord struct {
	PostID    string          `json:"post_id"`
	Type      InteractionType `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
}
