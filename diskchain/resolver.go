package diskchain

import (
	"context"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/ownership"
)

////////////////////////////////////////////////////////////////////////////////

// Opener opens the image found at relativePath through locator. Chain
// resolution is format-agnostic; the Opener closure is where a specific
// format module (vhd.Open, vmdk.Open, qcow2.Open) plugs in.
type Opener func(ctx context.Context, locator FileLocator, relativePath string) (Image, error)

// Resolver walks a disk chain leaf-to-root.
type Resolver struct {
	Opener Opener
}

func NewResolver(opener Opener) *Resolver {
	return &Resolver{Opener: opener}
}

////////////////////////////////////////////////////////////////////////////////

// Open resolves i0's ancestor chain against locator, following
// parent-location hints one image at a time and verifying each
// candidate's unique ID against the child's recorded parent ID
// (caller-supplied and already known to be genuine). i0Owns tags the edge from the caller down to
// i0; every ancestor Open discovers is tagged Dispose, since the
// resolver itself opened them.
func (r *Resolver) Open(ctx context.Context, locator FileLocator, i0 Image, i0Owns ownership.Ownership) (Chain, error) {
	chain := Chain{{Image: i0, Owns: i0Owns}}
	cur := i0

	for cur.Info().NeedsParent {
		if err := ctx.Err(); err != nil {
			chain[1:].Close()
			return nil, direrr.ErrCancelled
		}

		hints := cur.ParentLocationHints()
		var matched Image

		for _, hint := range hints {
			if !locator.Exists(ctx, hint) {
				continue
			}

			candidate, err := r.Opener(ctx, locator, hint)
			if err != nil {
				chain[1:].Close()
				return nil, err
			}

			expected := cur.Info().ParentUniqueID
			found := candidate.Info().UniqueID
			if found != expected {
				_ = candidate.Close()
				chain[1:].Close()
				return nil, direrr.NewChainMismatchError(
					[16]byte(expected), [16]byte(found), candidate.FullPath())
			}

			chain = append(chain, OwnedImage{Image: candidate, Owns: ownership.Dispose})
			cur = candidate
			matched = candidate
			break
		}

		if matched == nil {
			chain[1:].Close()
			return nil, direrr.NewParentNotFoundError(cur.FullPath(), hints)
		}
	}

	return chain, nil
}

////////////////////////////////////////////////////////////////////////////////

// OpenChain builds a Chain from a list of already-opened images ordered
// leaf-to-root, verifying only unique-ID adjacency and that the last
// element needs no further parent (the "alternate constructor").
func (r *Resolver) OpenChain(images []Image, owns []ownership.Ownership) (Chain, error) {
	if len(images) == 0 {
		return nil, direrr.NewNonRetriableErrorf("cannot build a chain from zero images")
	}
	if len(owns) != len(images) {
		return nil, direrr.NewNonRetriableErrorf("owns must have one entry per image")
	}

	for i := 0; i < len(images)-1; i++ {
		child, parent := images[i], images[i+1]
		expected := child.Info().ParentUniqueID
		found := parent.Info().UniqueID
		if found != expected {
			return nil, direrr.NewChainMismatchError(
				[16]byte(expected), [16]byte(found), parent.FullPath())
		}
	}

	last := images[len(images)-1]
	if last.Info().NeedsParent {
		return nil, direrr.NewNonRetriableErrorf(
			"chain is incomplete: %q still needs a parent", last.FullPath())
	}

	chain := make(Chain, len(images))
	for i := range images {
		chain[i] = OwnedImage{Image: images[i], Owns: owns[i]}
	}
	return chain, nil
}
