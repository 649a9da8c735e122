package sheet

import (
	"iter"
	"slices"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

const (
	chunkRows = 64                    // rows per chunk, power of 2
	chunkCols = 64                    // columns per chunk
	chunkSize = chunkRows * chunkCols // positions per chunk
)

// chunkKey indexes chunks in a grid
type chunkKey struct {
	row int
	col int
}

// chunk is a chunkRows x chunkCols block of cell ids in column-first order
type chunk struct {
	ids   []cell.ID
	count int
}

// grid is a sparse matrix of cell ids. positions are split into fixed-size
// chunks which are allocated on first write and dropped once empty.
type grid struct {
	chunks map[chunkKey]*chunk
	count  int
}

// entry is an occupied grid position
type entry struct {
	row int
	col int
	id  cell.ID
}

func newGrid() *grid {
	return &grid{chunks: make(map[chunkKey]*chunk)}
}

func locate(row, col int) (chunkKey, int) {
	key := chunkKey{row: row / chunkRows, col: col / chunkCols}
	idx := (col%chunkCols)*chunkRows + row%chunkRows
	return key, idx
}

// get returns the id at a position, "" when empty
func (g *grid) get(row, col int) cell.ID {
	if row < 0 || col < 0 {
		return ""
	}
	key, idx := locate(row, col)
	c, exists := g.chunks[key]
	if !exists {
		return ""
	}
	return c.ids[idx]
}

func (g *grid) set(row, col int, id cell.ID) {
	key, idx := locate(row, col)
	c, exists := g.chunks[key]
	if !exists {
		c = &chunk{ids: make([]cell.ID, chunkSize)}
		g.chunks[key] = c
	}
	if c.ids[idx] == "" {
		c.count++
		g.count++
	}
	c.ids[idx] = id
}

// remove clears a position and drops its chunk once empty
func (g *grid) remove(row, col int) {
	key, idx := locate(row, col)
	c, exists := g.chunks[key]
	if !exists || c.ids[idx] == "" {
		return
	}
	c.ids[idx] = ""
	c.count--
	g.count--
	if c.count == 0 {
		delete(g.chunks, key)
	}
}

func (g *grid) len() int {
	return g.count
}

// area iterates the occupied positions within the inclusive bounds in
// row-major order
func (g *grid) area(startRow, startCol, endRow, endCol int) iter.Seq[entry] {
	return func(yield func(entry) bool) {
		startRow, startCol = max(startRow, 0), max(startCol, 0)
		for row := startRow; row <= endRow; row++ {
			for col := startCol; col <= endCol; col++ {
				key, idx := locate(row, col)
				c, exists := g.chunks[key]
				if !exists {
					// skip to the next chunk on this row
					col = (key.col+1)*chunkCols - 1
					continue
				}
				if id := c.ids[idx]; id != "" {
					if !yield(entry{row: row, col: col, id: id}) {
						return
					}
				}
			}
		}
	}
}

// entries returns every occupied position in row-major order
func (g *grid) entries() []entry {
	result := make([]entry, 0, g.count)
	for key, c := range g.chunks {
		for idx, id := range c.ids {
			if id == "" {
				continue
			}
			result = append(result, entry{
				row: key.row*chunkRows + idx%chunkRows,
				col: key.col*chunkCols + idx/chunkRows,
				id:  id,
			})
		}
	}
	slices.SortFunc(result, func(a, b entry) int {
		if a.row != b.row {
			return a.row - b.row
		}
		return a.col - b.col
	})
	return result
}
