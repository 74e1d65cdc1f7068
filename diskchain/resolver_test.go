package diskchain

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/ownership"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

type fakeImage struct {
	info     ImageInfo
	path     string
	hints    []string
	capacity uint64
	closed   bool
}

func (f *fakeImage) Info() ImageInfo               { return f.info }
func (f *fakeImage) FullPath() string              { return f.path }
func (f *fakeImage) ParentLocationHints() []string { return f.hints }

func (f *fakeImage) OpenContent(_ context.Context, lower sparse.Stream, owns ownership.Ownership) (sparse.Stream, error) {
	s := sparse.NewMemoryStream(f.capacity, true)
	if lower == nil {
		return s, nil
	}
	layered, err := sparse.NewLayeredStream([]sparse.OwnedStream{
		{Stream: s, Owns: ownership.Dispose},
		{Stream: lower, Owns: owns},
	})
	if err != nil {
		return nil, err
	}
	return layered, nil
}

func (f *fakeImage) Close() error {
	f.closed = true
	return nil
}

////////////////////////////////////////////////////////////////////////////////

type fakeLocator struct {
	images map[string]*fakeImage
}

func (l *fakeLocator) Exists(_ context.Context, path string) bool {
	_, ok := l.images[path]
	return ok
}

func (l *fakeLocator) Open(_ context.Context, path string) (HostStream, error) {
	return nil, direrr.NewNonRetriableErrorf("fakeLocator.Open unused in these tests: %s", path)
}

func (l *fakeLocator) ResolveAbsolute(path string) string { return "/root/" + path }

func (l *fakeLocator) opener(_ context.Context, _ FileLocator, path string) (Image, error) {
	img, ok := l.images[path]
	if !ok {
		return nil, direrr.NewNonRetriableErrorf("no such image: %s", path)
	}
	return img, nil
}

////////////////////////////////////////////////////////////////////////////////

// TestChainResolutionSuccess covers this scenario: A→B→C with matching
// unique-id pointers resolves to [A, B, C] and C needs no parent.
func TestChainResolutionSuccess(t *testing.T) {
	ctx := context.Background()

	idA, idB, idC := uuid.New(), uuid.New(), uuid.New()

	c := &fakeImage{path: "c.vhd", capacity: 100, info: ImageInfo{UniqueID: idC, NeedsParent: false}}
	b := &fakeImage{path: "b.vhd", capacity: 100, hints: []string{"c.vhd"}, info: ImageInfo{UniqueID: idB, ParentUniqueID: idC, NeedsParent: true}}
	a := &fakeImage{path: "a.vhd", capacity: 100, hints: []string{"b.vhd"}, info: ImageInfo{UniqueID: idA, ParentUniqueID: idB, NeedsParent: true}}

	locator := &fakeLocator{images: map[string]*fakeImage{"b.vhd": b, "c.vhd": c}}
	resolver := NewResolver(locator.opener)

	chain, err := resolver.Open(ctx, locator, a, ownership.Dispose)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Same(t, a, chain[0].Image)
	require.Same(t, b, chain[1].Image)
	require.Same(t, c, chain[2].Image)
	require.False(t, chain[2].Image.Info().NeedsParent)
}

// TestChainResolutionMismatch covers this scenario: the file at the
// first matching hint has a unique id that disagrees with the child's
// recorded parent id; open fails with ChainMismatch and every file
// handle the resolver itself opened is closed.
func TestChainResolutionMismatch(t *testing.T) {
	ctx := context.Background()

	expectedParent := uuid.New()
	actualParent := uuid.New()

	wrongParent := &fakeImage{path: "wrong.vhd", capacity: 100, info: ImageInfo{UniqueID: actualParent}}
	a := &fakeImage{
		path: "a.vhd", capacity: 100, hints: []string{"wrong.vhd"},
		info: ImageInfo{UniqueID: uuid.New(), ParentUniqueID: expectedParent, NeedsParent: true},
	}

	locator := &fakeLocator{images: map[string]*fakeImage{"wrong.vhd": wrongParent}}
	resolver := NewResolver(locator.opener)

	_, err := resolver.Open(ctx, locator, a, ownership.Dispose)

	var mismatch *direrr.ChainMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, [16]byte(expectedParent), mismatch.Expected)
	require.Equal(t, [16]byte(actualParent), mismatch.Found)
	require.True(t, wrongParent.closed)
}

func TestChainResolutionParentNotFound(t *testing.T) {
	ctx := context.Background()

	a := &fakeImage{
		path: "a.vhd", capacity: 100, hints: []string{"missing.vhd"},
		info: ImageInfo{UniqueID: uuid.New(), ParentUniqueID: uuid.New(), NeedsParent: true},
	}

	locator := &fakeLocator{images: map[string]*fakeImage{}}
	resolver := NewResolver(locator.opener)

	_, err := resolver.Open(ctx, locator, a, ownership.Dispose)

	var notFound *direrr.ParentNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "a.vhd", notFound.For)
}

// TestOwnershipDisciplineDisposesOnlyTaggedLayers exercises the ownership-tagging discipline.
func TestOwnershipDisciplineDisposesOnlyTaggedLayers(t *testing.T) {
	idParent := uuid.New()
	top := &fakeImage{path: "top.vhd", capacity: 100, info: ImageInfo{UniqueID: uuid.New(), ParentUniqueID: idParent}}
	parent := &fakeImage{path: "parent.vhd", capacity: 100, info: ImageInfo{UniqueID: idParent}}

	chain := Chain{
		{Image: top, Owns: ownership.Dispose},
		{Image: parent, Owns: ownership.None},
	}

	require.NoError(t, chain.Close())
	require.True(t, top.closed)
	require.False(t, parent.closed)
}

// TestDifferencingChainLoadScenario covers the scenario:
// top unique_id=U1, parent_unique_id=U2, hints=["../base.vhd"]; locator
// reports the path exists and opens a file with unique_id=U2,
// needs_parent=false. The resulting chain has length 2 and its content
// stream's Len() equals the top file's capacity.
func TestDifferencingChainLoadScenario(t *testing.T) {
	ctx := context.Background()

	u1, u2 := uuid.New(), uuid.New()
	base := &fakeImage{path: "../base.vhd", capacity: 4096, info: ImageInfo{UniqueID: u2}}
	top := &fakeImage{
		path: "top.vhd", capacity: 4096, hints: []string{"../base.vhd"},
		info: ImageInfo{UniqueID: u1, ParentUniqueID: u2, NeedsParent: true},
	}

	locator := &fakeLocator{images: map[string]*fakeImage{"../base.vhd": base}}
	resolver := NewResolver(locator.opener)

	chain, err := resolver.Open(ctx, locator, top, ownership.Dispose)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	content, err := chain.ContentStream(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4096), content.Len())
}

func TestOpenChainVerifiesAdjacencyOnly(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	a := &fakeImage{path: "a.vhd", info: ImageInfo{UniqueID: u1, ParentUniqueID: u2, NeedsParent: true}}
	b := &fakeImage{path: "b.vhd", info: ImageInfo{UniqueID: u2, NeedsParent: false}}

	resolver := NewResolver(nil)
	chain, err := resolver.OpenChain([]Image{a, b}, []ownership.Ownership{ownership.Dispose, ownership.None})
	require.NoError(t, err)
	require.Len(t, chain, 2)
}

func TestOpenChainRejectsIncompleteTrailingImage(t *testing.T) {
	a := &fakeImage{path: "a.vhd", info: ImageInfo{UniqueID: uuid.New(), NeedsParent: true}}

	resolver := NewResolver(nil)
	_, err := resolver.OpenChain([]Image{a}, []ownership.Ownership{ownership.Dispose})
	require.Error(t, err)
}
