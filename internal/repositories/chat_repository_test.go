package repositories

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"messaging-core/internal/models"
)

func members(userIDs ...int) []models.ChatParticipant {
	participants := make([]models.ChatParticipant, 0, len(userIDs))
	for _, id := range userIDs {
		participants = append(participants, models.ChatParticipant{ChatID: 1, UserID: id})
	}
	return participants
}

func TestMatchesExactPair(t *testing.T) {
	tests := []struct {
		name         string
		participants []models.ChatParticipant
		userID       int
		otherID      int
		expected     int
		want         bool
	}{
		{name: "exact pair", participants: members(1, 2), userID: 1, otherID: 2, expected: 2, want: true},
		{name: "order does not matter", participants: members(2, 1), userID: 1, otherID: 2, expected: 2, want: true},
		{name: "superset containing both", participants: members(1, 2, 3), userID: 1, otherID: 2, expected: 2, want: false},
		{name: "one member only", participants: members(1), userID: 1, otherID: 2, expected: 2, want: false},
		{name: "right size wrong member", participants: members(1, 3), userID: 1, otherID: 2, expected: 2, want: false},
		{name: "both members wrong", participants: members(3, 4), userID: 1, otherID: 2, expected: 2, want: false},
		{name: "self chat", participants: members(1), userID: 1, otherID: 1, expected: 1, want: true},
		{name: "self chat with extra member", participants: members(1, 2), userID: 1, otherID: 1, expected: 1, want: false},
		{name: "empty set", participants: nil, userID: 1, otherID: 2, expected: 2, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchesExactPair(tt.participants, tt.userID, tt.otherID, tt.expected))
		})
	}
}
