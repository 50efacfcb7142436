package memory

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/deckvault/internal/model"
	"github.com/sakif/deckvault/internal/repository"
	"github.com/sakif/deckvault/internal/repository/storetest"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return New() })
}

func TestReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.UpsertUser(ctx, &model.User{Username: "owner"}))

	deck := &model.Deck{
		ID:         "d1",
		Visibility: model.VisibilityPublic,
		Username:   "owner",
		Cards: []model.Card{
			{Board: model.BoardMainboard, Quantity: 1, Payload: json.RawMessage(`{"name":"A"}`)},
		},
	}
	require.NoError(t, s.UpsertDeck(ctx, deck))

	// Mutating the caller's value after the write must not leak into the store.
	deck.Cards[0].Payload[2] = 'X'

	got, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"A"}`, string(got.Cards[0].Payload))

	// Nor may mutating a read result.
	got.Cards[0].Quantity = 99
	again, err := s.GetDeck(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Cards[0].Quantity)
}
