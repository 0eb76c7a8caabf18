package steps

import (
	"github.com/ormasoftchile/questline/pkg/progress"
	"github.com/ormasoftchile/questline/pkg/runtime"
	"github.com/ormasoftchile/questline/pkg/schema"
)

// ObjectReport is the offline steps-mode view of one object, read from a
// snapshot rather than a live executor.
type ObjectReport struct {
	ObjectID  string `json:"object_id"`
	Title     string `json:"title,omitempty"`
	Version   int    `json:"version"`
	Current   bool   `json:"current"`
	NextIndex int    `json:"next_index"`
	Done      int    `json:"done"`
	Total     int    `json:"total"`
	Rows      []Row  `json:"rows,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Report builds an ObjectReport for every object of q.
func Report(q *schema.Quest, snap *runtime.Snapshot, solved map[string]bool) []ObjectReport {
	var current string
	if snap != nil {
		current = snap.CurrentObjectID
	}
	out := make([]ObjectReport, 0, len(q.Objects))
	for i := range q.Objects {
		obj := &q.Objects[i]
		rep := ObjectReport{ObjectID: obj.ID, Title: obj.Title, Current: obj.ID == current}
		tl, err := schema.Normalize(obj)
		if err != nil {
			rep.Error = err.Error()
			out = append(out, rep)
			continue
		}
		st := progress.Compute(progress.Input{
			ObjectID: obj.ID,
			Items:    tl.Items,
			Snapshot: snap,
			Solved:   solved,
		})
		rep.Version = tl.Version
		rep.NextIndex = st.NextIndex
		rep.Rows = Build(tl.Items, st, solved)
		for _, r := range rep.Rows {
			if !r.Enabled {
				continue
			}
			rep.Total++
			if r.Done {
				rep.Done++
			}
		}
		out = append(out, rep)
	}
	return out
}

// NodeRef names the node backing one item.
type NodeRef struct {
	ObjectID string          `json:"object_id"`
	ItemKey  string          `json:"item_key"`
	NodeID   string          `json:"node_id"`
	Type     schema.ItemType `json:"type,omitempty"`
	Enabled  bool            `json:"enabled"`
}

// Nodes lists the node ids of objectID's timeline, or of every object when
// objectID is empty, ending each object with its end node. Objects whose
// timeline does not normalize are skipped.
func Nodes(q *schema.Quest, objectID string) []NodeRef {
	var out []NodeRef
	for i := range q.Objects {
		obj := &q.Objects[i]
		if objectID != "" && obj.ID != objectID {
			continue
		}
		tl, err := schema.Normalize(obj)
		if err != nil {
			continue
		}
		for _, it := range tl.Items {
			out = append(out, NodeRef{
				ObjectID: obj.ID,
				ItemKey:  it.Key,
				NodeID:   runtime.NodeID(obj.ID, it.Key),
				Type:     it.Type,
				Enabled:  it.Enabled,
			})
		}
		out = append(out, NodeRef{
			ObjectID: obj.ID,
			ItemKey:  runtime.EndNodeKey,
			NodeID:   runtime.NodeID(obj.ID, runtime.EndNodeKey),
			Enabled:  true,
		})
	}
	return out
}
