// Package car builds a deterministic merkle-DAG over a directory tree
// and serializes it as a content-addressed archive. Two directories with
// identical file bytes and relative paths always yield the identical
// root CID, so the storage network and any caller can verify the archive
// independently.
package car

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	chunker "github.com/ipfs/boxo/chunker"
	"github.com/ipfs/boxo/ipld/merkledag"
	"github.com/ipfs/boxo/ipld/unixfs/importer/balanced"
	ihelpers "github.com/ipfs/boxo/ipld/unixfs/importer/helpers"
	ufsio "github.com/ipfs/boxo/ipld/unixfs/io"
	"github.com/ipfs/go-cid"
	format "github.com/ipfs/go-ipld-format"
	carblockstore "github.com/ipld/go-car/v2/blockstore"
)

// ErrEmptySource indicates the source directory holds zero eligible
// files: there is nothing to archive.
var ErrEmptySource = errors.New("car: source directory contains no files to archive")

// Result reports a packed archive.
type Result struct {
	RootCID cid.Cid
	Summary Summary
}

// Pack walks sourceDir, imports every eligible file into a unixfs
// merkle-DAG (CIDv1, raw leaves) wrapped in a synthetic root directory,
// and writes all nodes as a CARv1 file at destPath declaring that root.
// Partial archives are never left behind: any error aborts the whole
// operation and removes destPath.
func Pack(ctx context.Context, sourceDir, destPath string) (Result, error) {
	entries, summary, err := enumerate(sourceDir)
	if err != nil {
		return Result{}, err
	}
	if len(entries) == 0 {
		return Result{}, ErrEmptySource
	}

	store := newNodeStore()
	p := &packer{store: store, prefix: merkledag.V1CidPrefix()}

	tree := newTreeDir()
	for _, entry := range entries {
		fileNode, err := p.importFile(ctx, entry)
		if err != nil {
			return Result{}, err
		}
		tree.insert(entry.rel, fileNode)
	}

	root, err := p.assemble(ctx, tree)
	if err != nil {
		return Result{}, err
	}

	if err := p.serialize(ctx, root.Cid(), destPath); err != nil {
		_ = os.Remove(destPath)
		return Result{}, err
	}
	return Result{RootCID: root.Cid(), Summary: summary}, nil
}

type packer struct {
	store  *nodeStore
	prefix cid.Prefix
}

// importFile streams a file's bytes through the balanced unixfs layout.
// Every produced node lands in the in-memory store; the returned node is
// the file's root.
func (p *packer) importFile(ctx context.Context, entry fileEntry) (format.Node, error) {
	f, err := os.Open(entry.abs)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.rel, err)
	}
	defer f.Close()

	params := ihelpers.DagBuilderParams{
		Dagserv:    p.store,
		RawLeaves:  true,
		Maxlinks:   ihelpers.DefaultLinksPerBlock,
		CidBuilder: p.prefix,
	}
	db, err := params.New(chunker.NewSizeSplitter(f, chunker.DefaultBlockSize))
	if err != nil {
		return nil, fmt.Errorf("prepare import of %s: %w", entry.rel, err)
	}
	nd, err := balanced.Layout(db)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", entry.rel, err)
	}
	return nd, nil
}

// treeDir mirrors the source directory structure while file nodes are
// being imported, before unixfs directory nodes are built bottom-up.
type treeDir struct {
	subdirs map[string]*treeDir
	files   map[string]format.Node
}

func newTreeDir() *treeDir {
	return &treeDir{subdirs: make(map[string]*treeDir), files: make(map[string]format.Node)}
}

func (t *treeDir) insert(rel string, nd format.Node) {
	dirs, base := splitPath(rel)
	cur := t
	for _, name := range dirs {
		next, ok := cur.subdirs[name]
		if !ok {
			next = newTreeDir()
			cur.subdirs[name] = next
		}
		cur = next
	}
	cur.files[base] = nd
}

// assemble builds unixfs directory nodes depth-first with children added
// in sorted name order, returning the synthetic root directory node.
func (p *packer) assemble(ctx context.Context, t *treeDir) (format.Node, error) {
	dir := ufsio.NewDirectory(p.store)
	dir.SetCidBuilder(p.prefix)

	names := make([]string, 0, len(t.subdirs))
	for name := range t.subdirs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child, err := p.assemble(ctx, t.subdirs[name])
		if err != nil {
			return nil, err
		}
		if err := dir.AddChild(ctx, name, child); err != nil {
			return nil, fmt.Errorf("add directory %s: %w", name, err)
		}
	}

	names = names[:0]
	for name := range t.files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := dir.AddChild(ctx, name, t.files[name]); err != nil {
			return nil, fmt.Errorf("add file %s: %w", name, err)
		}
	}

	nd, err := dir.GetNode()
	if err != nil {
		return nil, err
	}
	if err := p.store.Add(ctx, nd); err != nil {
		return nil, err
	}
	return nd, nil
}

// serialize writes every stored node into a CARv1 file whose header
// declares root. Blocks are written in first-insertion order, which is
// deterministic because files are imported in sorted path order.
func (p *packer) serialize(ctx context.Context, root cid.Cid, destPath string) error {
	bs, err := carblockstore.OpenReadWrite(destPath, []cid.Cid{root}, carblockstore.WriteAsCarV1(true))
	if err != nil {
		return fmt.Errorf("open archive writer: %w", err)
	}
	for _, c := range p.store.order {
		nd, err := p.store.Get(ctx, c)
		if err != nil {
			return fmt.Errorf("read back node %s: %w", c, err)
		}
		if err := bs.Put(ctx, nd); err != nil {
			return fmt.Errorf("write node %s: %w", c, err)
		}
	}
	if err := bs.Finalize(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}
