package device

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/densevo/utils"
)

// DefaultBlockSize is the edge length of a square 2D block and matches a 16x16 thread block.
const DefaultBlockSize = 16

// Block is the region of a 2D launch handled by a single kernel invocation.
// Pixels run over [X0, X1) x [Y0, Y1).
type Block struct {
	BX, BY int
	Linear int
	X0, Y0 int
	X1, Y1 int
}

// Grid is the block decomposition of a width x height launch.
type Grid struct {
	Width, Height int
	BlockSize     int
	BlocksX       int
	BlocksY       int
}

// NewGrid covers width x height with square blocks of edge blockSize.
func NewGrid(width, height, blockSize int) Grid {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return Grid{
		Width:     width,
		Height:    height,
		BlockSize: blockSize,
		BlocksX:   utils.DivCeil(width, blockSize),
		BlocksY:   utils.DivCeil(height, blockSize),
	}
}

// NumBlocks is the number of blocks in the grid.
func (g Grid) NumBlocks() int {
	return g.BlocksX * g.BlocksY
}

// Block returns the block with the given linear index.
func (g Grid) Block(linear int) Block {
	bx, by := linear%g.BlocksX, linear/g.BlocksX
	return Block{
		BX:     bx,
		BY:     by,
		Linear: linear,
		X0:     bx * g.BlockSize,
		Y0:     by * g.BlockSize,
		X1:     utils.MinInt((bx+1)*g.BlockSize, g.Width),
		Y1:     utils.MinInt((by+1)*g.BlockSize, g.Height),
	}
}

// Launch2D runs kernel once for every block of grid and returns when all blocks are done.
func (d Device) Launch2D(ctx context.Context, grid Grid, kernel func(b Block)) error {
	if err := d.CheckAvailable(); err != nil {
		return err
	}
	if grid.Width <= 0 || grid.Height <= 0 {
		return errors.Wrapf(ErrDimensionMismatch, "cannot launch over %dx%d", grid.Width, grid.Height)
	}
	return utils.ParallelForEachBlock(ctx, grid.NumBlocks(), func(blockNum int) {
		kernel(grid.Block(blockNum))
	})
}

// Launch1D splits [0, n) into chunks of blockSize and runs kernel once per chunk.
func (d Device) Launch1D(ctx context.Context, n, blockSize int, kernel func(blockNum, from, to int)) error {
	if err := d.CheckAvailable(); err != nil {
		return err
	}
	if blockSize <= 0 {
		blockSize = DefaultBlockSize * DefaultBlockSize
	}
	return utils.ParallelForEachBlock(ctx, utils.DivCeil(n, blockSize), func(blockNum int) {
		from := blockNum * blockSize
		kernel(blockNum, from, utils.MinInt(from+blockSize, n))
	})
}
