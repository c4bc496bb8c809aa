package model

import (
	"encoding/json"
	"sort"

	"github.com/lightforgemedia/go-notebooksync/pkg/wire"
)

// Column describes one batch-table column.
type Column struct {
	Name string
	Type string
}

// Row is one batch-table row keyed by column name.
type Row struct {
	ID    int64
	Cells map[string]json.RawMessage
}

// BatchTable is a cached batch table. Rows are ordered by id.
type BatchTable struct {
	ID      int64
	Version int64
	Columns []Column
	Rows    []Row
}

// ApplyBatchTablePatch replaces the column set when the patch carries one,
// upserts rows by id, and removes deleted rows. Cells of an existing row are
// merged.
func ApplyBatchTablePatch(t BatchTable, p wire.BatchTablePatch) (BatchTable, error) {
	if err := checkVersion(t.Version, p.Version); err != nil {
		return t, err
	}
	out := t
	out.Version = nextVersion(t.Version, p.Version)
	if len(p.Columns) > 0 {
		cols := make([]Column, 0, len(p.Columns))
		for _, c := range p.Columns {
			cols = append(cols, Column{Name: c.Name, Type: c.Type})
		}
		out.Columns = cols
	}

	deleted := make(map[int64]bool, len(p.DeletedRowIDs))
	for _, id := range p.DeletedRowIDs {
		deleted[id] = true
	}
	rows := make(map[int64]Row, len(t.Rows)+len(p.Rows))
	for _, r := range t.Rows {
		if !deleted[r.ID] {
			rows[r.ID] = r
		}
	}
	for _, rp := range p.Rows {
		if deleted[rp.RowID] {
			continue
		}
		cells := make(map[string]json.RawMessage, len(rp.Cells))
		if prev, ok := rows[rp.RowID]; ok {
			for k, v := range prev.Cells {
				cells[k] = v
			}
		}
		for k, v := range rp.Cells {
			cells[k] = v
		}
		rows[rp.RowID] = Row{ID: rp.RowID, Cells: cells}
	}
	out.Rows = make([]Row, 0, len(rows))
	for _, r := range rows {
		out.Rows = append(out.Rows, r)
	}
	sort.Slice(out.Rows, func(i, j int) bool { return out.Rows[i].ID < out.Rows[j].ID })
	return out, nil
}
