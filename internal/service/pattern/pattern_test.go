package pattern_test

import (
	"testing"

	"bingo-service/internal/model"
	"bingo-service/internal/service/card"
	"bingo-service/internal/service/pattern"
	"bingo-service/pkg/utils/random"

	"github.com/stretchr/testify/assert"
)

func markCells(grid card.Grid, cells ...[2]int) map[int]bool {
	marked := map[int]bool{}
	for _, c := range cells {
		marked[grid[c[0]][c[1]]] = true
	}
	return marked
}

func row(r int) [][2]int {
	out := make([][2]int, 0, card.Size)
	for c := 0; c < card.Size; c++ {
		out = append(out, [2]int{r, c})
	}
	return out
}

func column(c int) [][2]int {
	out := make([][2]int, 0, card.Size)
	for r := 0; r < card.Size; r++ {
		out = append(out, [2]int{r, c})
	}
	return out
}

func diagonals() (main, anti [][2]int) {
	for i := 0; i < card.Size; i++ {
		main = append(main, [2]int{i, i})
		anti = append(anti, [2]int{i, card.Size - 1 - i})
	}
	return main, anti
}

func TestFourCorners(t *testing.T) {
	grid := card.Generate(random.Seeded(11))
	corners := [][2]int{{0, 0}, {0, 4}, {4, 0}, {4, 4}}

	assert.True(t, pattern.IsWinner(grid, markCells(grid, corners...), model.PatternFourCorners))
	assert.False(t, pattern.IsWinner(grid, markCells(grid, corners[:3]...), model.PatternFourCorners))
}

func TestHorizontalLineUsesFreeCentre(t *testing.T) {
	grid := card.Generate(random.Seeded(12))
	middle := row(2)
	withoutCentre := append(append([][2]int{}, middle[:2]...), middle[3:]...)

	assert.True(t, pattern.IsWinner(grid, markCells(grid, withoutCentre...), model.PatternHorizontalLine))
	assert.False(t, pattern.IsWinner(grid, markCells(grid, row(0)[:4]...), model.PatternHorizontalLine))
	assert.True(t, pattern.IsWinner(grid, markCells(grid, row(4)...), model.PatternHorizontalLine))
}

func TestVerticalLine(t *testing.T) {
	grid := card.Generate(random.Seeded(13))
	assert.True(t, pattern.IsWinner(grid, markCells(grid, column(1)...), model.PatternVerticalLine))
	assert.False(t, pattern.IsWinner(grid, markCells(grid, row(1)...), model.PatternVerticalLine))
}

func TestDiagonalAndX(t *testing.T) {
	grid := card.Generate(random.Seeded(14))
	main, anti := diagonals()

	assert.True(t, pattern.IsWinner(grid, markCells(grid, main...), model.PatternDiagonal))
	assert.True(t, pattern.IsWinner(grid, markCells(grid, anti...), model.PatternDiagonal))
	assert.False(t, pattern.IsWinner(grid, markCells(grid, main...), model.PatternX))
	assert.True(t, pattern.IsWinner(grid, markCells(grid, append(main, anti...)...), model.PatternX))
}

func TestFullCard(t *testing.T) {
	grid := card.Generate(random.Seeded(15))
	var all [][2]int
	for r := 0; r < card.Size; r++ {
		all = append(all, row(r)...)
	}
	assert.True(t, pattern.IsWinner(grid, markCells(grid, all...), model.PatternFullCard))
	assert.False(t, pattern.IsWinner(grid, markCells(grid, all[1:]...), model.PatternFullCard))
}

func TestNoMarksNeverWins(t *testing.T) {
	grid := card.Generate(random.Seeded(16))
	for _, p := range model.Patterns {
		assert.False(t, pattern.IsWinner(grid, map[int]bool{}, p), "pattern %s", p)
	}
}

func TestUnknownPatternFailsClosed(t *testing.T) {
	grid := card.Generate(random.Seeded(17))
	var all [][2]int
	for r := 0; r < card.Size; r++ {
		all = append(all, row(r)...)
	}
	assert.False(t, pattern.IsWinner(grid, markCells(grid, all...), model.PatternType("blackout")))
}

func TestEffectiveDropsUncalledMarks(t *testing.T) {
	called := map[int]bool{3: true, 17: true}
	got := pattern.Effective([]int{3, 17, 44}, called)
	assert.Equal(t, map[int]bool{3: true, 17: true}, got)
}
