// Package board holds the sparse grid shared by the grid battle and the
// quiz tic-tac-toe board: cell addressing, wire encoding under gameData,
// and run detection through a newly placed cell.
package board

import (
	"fmt"
	"strconv"
	"strings"
)

// Cell addresses one grid position.
type Cell struct {
	Row int
	Col int
}

// Key is the wire form of a cell inside the board map ("row,col").
func (c Cell) Key() string {
	return strconv.Itoa(c.Row) + "," + strconv.Itoa(c.Col)
}

// ParseKey parses a wire cell key.
func ParseKey(key string) (Cell, error) {
	row, col, ok := strings.Cut(key, ",")
	if !ok {
		return Cell{}, fmt.Errorf("invalid cell key %q", key)
	}
	r, err := strconv.Atoi(row)
	if err != nil {
		return Cell{}, fmt.Errorf("invalid cell key %q", key)
	}
	c, err := strconv.Atoi(col)
	if err != nil {
		return Cell{}, fmt.Errorf("invalid cell key %q", key)
	}
	return Cell{Row: r, Col: c}, nil
}

// Board is a sparse grid of per-cell symbols.
type Board struct {
	Size  int
	Cells map[Cell]string
}

// New creates an empty board.
func New(size int) Board {
	return Board{Size: size, Cells: make(map[Cell]string)}
}

// FromGameData decodes a board from the session document's gameData,
// expecting {"size": n, "board": {"r,c": symbol}}. A missing board decodes
// as empty with the given default size.
func FromGameData(data map[string]any, defaultSize int) (Board, error) {
	b := New(defaultSize)
	if data == nil {
		return b, nil
	}
	if raw, ok := data["size"]; ok {
		switch v := raw.(type) {
		case int:
			b.Size = v
		case float64:
			b.Size = int(v)
		default:
			return b, fmt.Errorf("board size is %T, want number", raw)
		}
	}
	raw, ok := data["board"]
	if !ok || raw == nil {
		return b, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return b, fmt.Errorf("board is %T, want map", raw)
	}
	for key, val := range m {
		cell, err := ParseKey(key)
		if err != nil {
			return b, err
		}
		sym, ok := val.(string)
		if !ok {
			return b, fmt.Errorf("board[%s] is %T, want string", key, val)
		}
		b.Cells[cell] = sym
	}
	return b, nil
}

// InBounds reports whether the cell lies on the board.
func (b Board) InBounds(c Cell) bool {
	return c.Row >= 0 && c.Row < b.Size && c.Col >= 0 && c.Col < b.Size
}

// Occupied reports whether the cell already holds a symbol.
func (b Board) Occupied(c Cell) bool {
	_, ok := b.Cells[c]
	return ok
}

// Full reports whether every cell holds a symbol.
func (b Board) Full() bool {
	return len(b.Cells) >= b.Size*b.Size
}

var axes = [4][2]int{
	{0, 1},  // horizontal
	{1, 0},  // vertical
	{1, 1},  // diagonal down-right
	{1, -1}, // diagonal down-left
}

// WinningPlacement reports whether placing symbol at cell completes a run
// of at least target identical symbols along any of the four axes through
// the cell. The placed cell itself counts whether or not it is already in
// the map; scanning walks outward in both signed directions per axis and
// stops at board bounds or a different symbol.
func (b Board) WinningPlacement(cell Cell, symbol string, target int) bool {
	for _, axis := range axes {
		count := 1
		count += b.runLength(cell, symbol, axis[0], axis[1])
		count += b.runLength(cell, symbol, -axis[0], -axis[1])
		if count >= target {
			return true
		}
	}
	return false
}

func (b Board) runLength(from Cell, symbol string, dr, dc int) int {
	count := 0
	cur := Cell{Row: from.Row + dr, Col: from.Col + dc}
	for b.InBounds(cur) && b.Cells[cur] == symbol {
		count++
		cur.Row += dr
		cur.Col += dc
	}
	return count
}
