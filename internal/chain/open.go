package chain

import (
	"fmt"

	"github.com/ostafen/vhdxlens/internal/vhdx"
)

// Load opens path and, if it is a differencing disk, walks its parent
// locator chain (resolving each parent relative to the child that names
// it) until it reaches a non-differencing base, returning the full
// base-first Chain. opts is applied to every layer in the chain.
func Load(path string, opts vhdx.OpenOptions) (*Chain, error) {
	var containers []*vhdx.Container
	closeAll := func() {
		for _, c := range containers {
			c.Close()
		}
	}

	current := path
	for {
		c, err := vhdx.Open(current, opts)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("chain: opening %s: %w", current, err)
		}
		containers = append(containers, c)

		if !c.IsDifferencing() {
			break
		}

		locator := c.Metas().ParentLocator
		parentPath, err := LocateParent(current, locator)
		if err != nil {
			closeAll()
			return nil, err
		}
		current = parentPath
	}

	layers := make([]Layer, len(containers))
	for i, c := range containers {
		// base-first: the chain we followed is topmost-first
		layers[len(containers)-1-i] = c
	}

	chain, err := New(layers)
	if err != nil {
		closeAll()
		return nil, err
	}
	return chain, nil
}

// Close releases every underlying Container's file handle.
func (c *Chain) Close() error {
	var firstErr error
	for _, l := range c.layers {
		if container, ok := l.(*vhdx.Container); ok {
			if err := container.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Layers returns the chain's layers, base first.
func (c *Chain) Layers() []Layer { return c.layers }
