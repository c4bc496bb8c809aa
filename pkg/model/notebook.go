package model

import (
	"encoding/json"
	"sort"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// RelevantQuery is a saved query suggested for a block.
type RelevantQuery struct {
	ID    string
	Title string
	SQL   string
	Score float64
}

// Block is one cell of a notebook.
type Block struct {
	ID              string
	Kind            string
	Position        int
	Content         json.RawMessage
	RelevantQueries []RelevantQuery
}

// Notebook is a cached project.
type Notebook struct {
	ID      int64
	Version int64
	Title   string
	Blocks  []Block
}

// Block returns the block with id.
func (n Notebook) Block(id string) (Block, bool) {
	for _, b := range n.Blocks {
		if b.ID == id {
			return b, true
		}
	}
	return Block{}, false
}

// ApplyProjectPatch upserts blocks, removes deleted ones, and keeps the
// result ordered by position. Relevant queries already attached to a block
// survive content updates.
func ApplyProjectPatch(n Notebook, p wire.ProjectPatch) (Notebook, error) {
	if err := checkVersion(n.Version, p.Version); err != nil {
		return n, err
	}
	out := n
	out.Version = nextVersion(n.Version, p.Version)
	if p.Title != nil {
		out.Title = *p.Title
	}

	deleted := make(map[string]bool, len(p.DeletedBlockIDs))
	for _, id := range p.DeletedBlockIDs {
		deleted[id] = true
	}
	byID := make(map[string]int, len(n.Blocks))
	blocks := make([]Block, 0, len(n.Blocks)+len(p.Blocks))
	for _, b := range n.Blocks {
		if deleted[b.ID] {
			continue
		}
		byID[b.ID] = len(blocks)
		blocks = append(blocks, b)
	}
	for _, bp := range p.Blocks {
		if deleted[bp.BlockID] {
			continue
		}
		nb := Block{ID: bp.BlockID, Kind: bp.Kind, Position: bp.Position, Content: bp.Content}
		if i, ok := byID[bp.BlockID]; ok {
			nb.RelevantQueries = blocks[i].RelevantQueries
			blocks[i] = nb
			continue
		}
		byID[bp.BlockID] = len(blocks)
		blocks = append(blocks, nb)
	}
	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].Position < blocks[j].Position })
	out.Blocks = blocks
	return out, nil
}

// AttachRelevantQueries replaces the suggestions of one block. It reports
// false when the block is not in the notebook.
func AttachRelevantQueries(n Notebook, blockID string, queries []wire.RelevantQuery) (Notebook, bool) {
	idx := -1
	for i, b := range n.Blocks {
		if b.ID == blockID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return n, false
	}
	rq := make([]RelevantQuery, 0, len(queries))
	for _, q := range queries {
		rq = append(rq, RelevantQuery{ID: q.QueryID, Title: q.Title, SQL: q.SQL, Score: q.Score})
	}
	out := n
	out.Blocks = append([]Block(nil), n.Blocks...)
	out.Blocks[idx].RelevantQueries = rq
	return out, true
}
