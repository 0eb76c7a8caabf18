package validate

import (
	"fmt"

	"github.com/ormasoftchile/questline/pkg/schema"
)

// validateDomain runs quest/v1 domain-level validation rules.
func validateDomain(q *schema.Quest) []*ValidationError {
	var errs []*ValidationError

	// D1: apiVersion must be quest/v1
	if q.APIVersion != schema.APIVersionQuest {
		errs = append(errs, errorf("domain", "apiVersion", "expected %q, got %q", schema.APIVersionQuest, q.APIVersion))
	}

	// D2: quest name
	if q.Name == "" {
		errs = append(errs, errorf("domain", "name", "name is required"))
	}

	// D3: puzzle catalog ids unique and non-empty
	catalog := map[string]bool{}
	for i, p := range q.Puzzles {
		path := fmt.Sprintf("puzzles[%d]", i)
		switch {
		case p.ID == "":
			errs = append(errs, errorf("domain", path+".id", "puzzle id is required"))
		case catalog[p.ID]:
			errs = append(errs, errorf("domain", path+".id", "duplicate puzzle id %q", p.ID))
		}
		catalog[p.ID] = true
	}

	if len(q.Objects) == 0 {
		errs = append(errs, warningf("domain", "objects", "quest has no objects"))
	}

	// D4: object ids unique and non-empty
	objects := map[string]string{}
	for i := range q.Objects {
		obj := &q.Objects[i]
		path := fmt.Sprintf("objects[%d]", i)
		if obj.ID == "" {
			errs = append(errs, errorf("domain", path+".id", "object id is required"))
		} else if prev, ok := objects[obj.ID]; ok {
			errs = append(errs, errorf("domain", path+".id", "duplicate object id %q (first at %s)", obj.ID, prev))
		} else {
			objects[obj.ID] = path
		}

		// D5: coordinates are advisory, only effects consume them
		if obj.Location != nil {
			if _, ok := schema.ValidCoordinates(obj); !ok {
				errs = append(errs, warningf("domain", path+".location", "coordinates %v,%v are unusable; effects will skip the marker", obj.Location.Lat, obj.Location.Lng))
			}
		}

		errs = append(errs, validateTimeline(obj, path+".timeline", catalog)...)
	}
	return errs
}

// validateTimeline normalizes the timeline and checks item references.
func validateTimeline(obj *schema.Object, path string, catalog map[string]bool) []*ValidationError {
	var errs []*ValidationError

	// D6: keys, types and payloads (single tagged-union parse)
	tl, err := schema.Normalize(obj)
	if err != nil {
		return append(errs, errorf("domain", path, "%s", err))
	}
	if len(tl.Items) == 0 {
		errs = append(errs, warningf("domain", path+".items", "timeline is empty"))
	}

	// D7: puzzle references degrade gracefully at run time, so only warn
	for i, it := range tl.Items {
		if it.Type != schema.ItemPuzzle {
			continue
		}
		itemPath := fmt.Sprintf("%s.items[%d].puzzle.puzzle_id", path, i)
		id := it.PuzzleID()
		switch {
		case id == "":
			errs = append(errs, warningf("domain", itemPath, "puzzle item %q has no puzzle id and will be skipped", it.Key))
		case !catalog[id]:
			errs = append(errs, warningf("domain", itemPath, "puzzle %q is not in the catalog; item %q will be skipped", id, it.Key))
		}
	}
	return errs
}

