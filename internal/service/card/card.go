package card

import (
	"fmt"

	"bingo-service/pkg/utils/random"
)

const (
	Size      = 5
	BallCount = 75
	bandWidth = 15
	FreeRow   = 2
	FreeCol   = 2
)

var letters = [Size]string{"B", "I", "N", "G", "O"}

// Grid is row-major: Grid[row][col]. Column c holds numbers from
// c*15+1 to c*15+15.
type Grid [Size][Size]int

func ValidNumber(n int) bool {
	return n >= 1 && n <= BallCount
}

// Letter returns the column band of a ball, or "" if n is out of range.
func Letter(n int) string {
	if !ValidNumber(n) {
		return ""
	}
	return letters[(n-1)/bandWidth]
}

func ColumnRange(col int) (lo, hi int) {
	lo = col*bandWidth + 1
	return lo, lo + bandWidth - 1
}

// Generate deals five distinct numbers per column from that column's band.
// Columns are drawn first and transposed into rows.
func Generate(src random.Source) Grid {
	var columns [Size][Size]int
	for col := 0; col < Size; col++ {
		lo, _ := ColumnRange(col)
		band := make([]int, bandWidth)
		for i := range band {
			band[i] = lo + i
		}
		// partial Fisher-Yates: the first Size slots end up a uniform sample
		for i := 0; i < Size; i++ {
			j := i + src.IntN(bandWidth-i)
			band[i], band[j] = band[j], band[i]
			columns[col][i] = band[i]
		}
	}

	var grid Grid
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			grid[row][col] = columns[col][row]
		}
	}
	return grid
}

func (g Grid) Contains(n int) bool {
	for row := 0; row < Size; row++ {
		for col := 0; col < Size; col++ {
			if g[row][col] == n {
				return true
			}
		}
	}
	return false
}

// Validate checks column bands and uniqueness.
func (g Grid) Validate() error {
	seen := make(map[int]bool, Size*Size)
	for col := 0; col < Size; col++ {
		lo, hi := ColumnRange(col)
		for row := 0; row < Size; row++ {
			n := g[row][col]
			if n < lo || n > hi {
				return fmt.Errorf("cell (%d,%d)=%d outside %s band %d-%d", row, col, n, letters[col], lo, hi)
			}
			if seen[n] {
				return fmt.Errorf("number %d appears twice", n)
			}
			seen[n] = true
		}
	}
	return nil
}
