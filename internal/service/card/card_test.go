package card_test

import (
	"testing"

	"bingo-service/internal/service/card"
	"bingo-service/pkg/utils/random"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRespectsColumnBands(t *testing.T) {
	for seed := uint64(0); seed < 500; seed++ {
		grid := card.Generate(random.Seeded(seed))
		require.NoError(t, grid.Validate(), "seed %d", seed)

		seen := map[int]bool{}
		for row := 0; row < card.Size; row++ {
			for col := 0; col < card.Size; col++ {
				seen[grid[row][col]] = true
			}
		}
		require.Len(t, seen, 25, "seed %d", seed)
	}
}

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	a := card.Generate(random.Seeded(42))
	b := card.Generate(random.Seeded(42))
	assert.Equal(t, a, b)
}

func TestGenerateCoversWholeBand(t *testing.T) {
	src := random.Seeded(7)
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		grid := card.Generate(src)
		for row := 0; row < card.Size; row++ {
			seen[grid[row][0]] = true
		}
	}
	for n := 1; n <= 15; n++ {
		assert.True(t, seen[n], "B column never produced %d", n)
	}
}

func TestLetter(t *testing.T) {
	cases := map[int]string{1: "B", 15: "B", 16: "I", 30: "I", 31: "N", 45: "N", 46: "G", 60: "G", 61: "O", 75: "O", 0: "", 76: ""}
	for n, want := range cases {
		assert.Equal(t, want, card.Letter(n), "number %d", n)
	}
}

func TestValidateRejectsOutOfBand(t *testing.T) {
	grid := card.Generate(random.Seeded(1))
	grid[0][0] = 20
	assert.Error(t, grid.Validate())

	grid = card.Generate(random.Seeded(1))
	grid[1][0] = grid[0][0]
	assert.Error(t, grid.Validate())
}

func TestContains(t *testing.T) {
	grid := card.Generate(random.Seeded(3))
	assert.True(t, grid.Contains(grid[4][4]))
	assert.False(t, grid.Contains(0))
}
