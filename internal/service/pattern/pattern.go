package pattern

import (
	"bingo-service/internal/model"
	"bingo-service/internal/service/card"
)

type markFunc func(row, col int) bool

// IsWinner reports whether the marked numbers complete the pattern on grid.
// The centre cell always counts as marked. Unknown patterns never win.
func IsWinner(grid card.Grid, marked map[int]bool, p model.PatternType) bool {
	isMarked := func(row, col int) bool {
		if row == card.FreeRow && col == card.FreeCol {
			return true
		}
		return marked[grid[row][col]]
	}

	switch p {
	case model.PatternHorizontalLine:
		return anyRow(isMarked)
	case model.PatternVerticalLine:
		return anyColumn(isMarked)
	case model.PatternDiagonal:
		return mainDiagonal(isMarked) || antiDiagonal(isMarked)
	case model.PatternFourCorners:
		last := card.Size - 1
		return isMarked(0, 0) && isMarked(0, last) && isMarked(last, 0) && isMarked(last, last)
	case model.PatternFullCard:
		return fullCard(isMarked)
	case model.PatternX:
		return mainDiagonal(isMarked) && antiDiagonal(isMarked)
	default:
		return false
	}
}

// Effective intersects the player's marks with the called set, so only
// numbers the server has actually drawn count towards a claim.
func Effective(marks []int, called map[int]bool) map[int]bool {
	out := make(map[int]bool, len(marks))
	for _, n := range marks {
		if called[n] {
			out[n] = true
		}
	}
	return out
}

func anyRow(isMarked markFunc) bool {
	for row := 0; row < card.Size; row++ {
		complete := true
		for col := 0; col < card.Size; col++ {
			if !isMarked(row, col) {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}

func anyColumn(isMarked markFunc) bool {
	for col := 0; col < card.Size; col++ {
		complete := true
		for row := 0; row < card.Size; row++ {
			if !isMarked(row, col) {
				complete = false
				break
			}
		}
		if complete {
			return true
		}
	}
	return false
}

func mainDiagonal(isMarked markFunc) bool {
	for i := 0; i < card.Size; i++ {
		if !isMarked(i, i) {
			return false
		}
	}
	return true
}

func antiDiagonal(isMarked markFunc) bool {
	for i := 0; i < card.Size; i++ {
		if !isMarked(i, card.Size-1-i) {
			return false
		}
	}
	return true
}

func fullCard(isMarked markFunc) bool {
	for row := 0; row < card.Size; row++ {
		for col := 0; col < card.Size; col++ {
			if !isMarked(row, col) {
				return false
			}
		}
	}
	return true
}
