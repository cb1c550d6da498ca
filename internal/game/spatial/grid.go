// Package spatial provides the geometry primitives and broad-phase
// structures used by the collision resolver.
//
// Structures use preallocated slices with integer indices (not pointers) so
// that the per-tick rebuild produces no garbage.
package spatial

import (
	"math"
	"sort"
)

// Grid buckets entities into fixed-size cells for neighbor queries.
//
// The cell size should be at least the largest query radius; for ship
// contact checks that is twice the ship radius.
//
// Memory layout: cells are stored in row-major order (cells[row*cols+col]).
type Grid struct {
	cellSize    float64
	invCellSize float64
	cols, rows  int
	cells       [][]int
	scratch     []int
}

// NewGrid creates a grid covering a width × height stage.
func NewGrid(width, height, cellSize float64, maxEntities int) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	cols := int(math.Ceil(width / cellSize))
	rows := int(math.Ceil(height / cellSize))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	cells := make([][]int, cols*rows)
	perCell := maxEntities / len(cells)
	if perCell < 4 {
		perCell = 4
	}
	for i := range cells {
		cells[i] = make([]int, 0, perCell)
	}

	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cols:        cols,
		rows:        rows,
		cells:       cells,
		scratch:     make([]int, 0, 64),
	}
}

// Clear empties every cell but keeps the backing arrays.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

// Insert adds entity id at (x, y). Positions outside the grid are clamped to
// the border cells.
func (g *Grid) Insert(id int, x, y float64) {
	idx := g.cellIndex(x, y)
	g.cells[idx] = append(g.cells[idx], id)
}

func (g *Grid) cellCoords(x, y float64) (col, row int) {
	col = clampInt(int(math.Floor(x*g.invCellSize)), 0, g.cols-1)
	row = clampInt(int(math.Floor(y*g.invCellSize)), 0, g.rows-1)
	return col, row
}

func (g *Grid) cellIndex(x, y float64) int {
	col, row := g.cellCoords(x, y)
	return row*g.cols + col
}

// QueryRadius returns the ids of every entity in a cell touched by the
// square of half-size radius around (cx, cy), sorted ascending.
//
// The returned slice is reused by the next call. Candidates may lie outside
// the radius; callers do the exact test.
func (g *Grid) QueryRadius(cx, cy, radius float64) []int {
	g.scratch = g.scratch[:0]

	minCol, minRow := g.cellCoords(cx-radius, cy-radius)
	maxCol, maxRow := g.cellCoords(cx+radius, cy+radius)
	for row := minRow; row <= maxRow; row++ {
		for col := minCol; col <= maxCol; col++ {
			g.scratch = append(g.scratch, g.cells[row*g.cols+col]...)
		}
	}
	sort.Ints(g.scratch)
	return g.scratch
}

// Stats returns occupancy figures for debugging.
func (g *Grid) Stats() GridStats {
	var total, maxInCell, nonEmpty int
	for _, cell := range g.cells {
		n := len(cell)
		total += n
		if n > maxInCell {
			maxInCell = n
		}
		if n > 0 {
			nonEmpty++
		}
	}
	return GridStats{
		TotalCells:    len(g.cells),
		NonEmptyCells: nonEmpty,
		TotalEntities: total,
		MaxInCell:     maxInCell,
	}
}

// GridStats contains grid occupancy figures.
type GridStats struct {
	TotalCells    int
	NonEmptyCells int
	TotalEntities int
	MaxInCell     int
}

// Dimensions returns the grid dimensions.
func (g *Grid) Dimensions() (cols, rows int, cellSize float64) {
	return g.cols, g.rows, g.cellSize
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
