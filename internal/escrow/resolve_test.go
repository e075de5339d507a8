package escrow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	full, err := HostSeats("alice").Seat("bob")
	require.NoError(t, err)

	tests := []struct {
		name      string
		seats     Seats
		proposals Proposals
		want      Resolution
	}{
		{"no proposals", full, nil, Resolution{Outcome: Pending}},
		{"host only", full, Proposals{"alice": "alice"}, Resolution{Outcome: Pending}},
		{"joiner only", full, Proposals{"bob": "alice"}, Resolution{Outcome: Pending}},
		{"agreed on host", full, Proposals{"alice": "alice", "bob": "alice"}, Resolution{Outcome: Agreed, Winner: "alice"}},
		{"agreed on joiner", full, Proposals{"alice": "bob", "bob": "bob"}, Resolution{Outcome: Agreed, Winner: "bob"}},
		{"disputed", full, Proposals{"alice": "alice", "bob": "bob"}, Resolution{Outcome: Disputed}},
		{"table not full", HostSeats("alice"), Proposals{"alice": "alice"}, Resolution{Outcome: Pending}},
		{"empty seats", Seats{}, nil, Resolution{Outcome: Pending}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.seats, tt.proposals))
		})
	}
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "agreed", Agreed.String())
	assert.Equal(t, "disputed", Disputed.String())
}
