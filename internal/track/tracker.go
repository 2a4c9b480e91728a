// Package track implements centroid-based multi-object tracking for a single
// camera: detection boxes in, stable numeric identities out.
package track

import (
	"image"
	"math"
	"sort"
)

// DefaultMaxDisappeared is the number of consecutive frames a track may go
// unmatched before its identity is retired (roughly 1.5-2s of video).
const DefaultMaxDisappeared = 40

// Tracker assigns persistent identities to detection centroids frame to frame.
// It is not safe for concurrent use; callers must serialize Update calls for
// a given camera.
type Tracker struct {
	nextID         int
	order          []int // live ids in registration order
	centroids      map[int]image.Point
	disappeared    map[int]int
	maxDisappeared int
	newIDs         []int
}

// New creates a Tracker. maxDisappeared is the number of consecutive
// unmatched frames before a track is deregistered; values <= 0 use
// DefaultMaxDisappeared.
func New(maxDisappeared int) *Tracker {
	if maxDisappeared <= 0 {
		maxDisappeared = DefaultMaxDisappeared
	}
	return &Tracker{
		centroids:      make(map[int]image.Point),
		disappeared:    make(map[int]int),
		maxDisappeared: maxDisappeared,
	}
}

// register assigns the next id to a centroid and records it as newly seen.
func (t *Tracker) register(c image.Point) {
	t.centroids[t.nextID] = c
	t.disappeared[t.nextID] = 0
	t.order = append(t.order, t.nextID)
	t.newIDs = append(t.newIDs, t.nextID)
	t.nextID++
}

// deregister retires an id permanently; it is never reassigned.
func (t *Tracker) deregister(id int) {
	delete(t.centroids, id)
	delete(t.disappeared, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Centroid returns the center point of a detection box.
func Centroid(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}

// Update matches the given detection boxes against the live tracks and
// returns the current id -> centroid mapping.
//
// Matching is a greedy nearest-centroid assignment: tracks are visited in
// order of increasing best-match distance (ties broken by registration
// order) and each takes its nearest unclaimed input. This is deliberately
// not an optimal bipartite assignment; it trades occasional id swaps under
// crossing trajectories for constant low latency, and alerting depends on
// that behavior staying put.
//
// Tracks left unmatched accumulate a disappearance count and are retired
// once it exceeds maxDisappeared. Unmatched inputs become new tracks. With
// zero input boxes every live track's counter is incremented and nothing is
// registered.
func (t *Tracker) Update(rects []image.Rectangle) map[int]image.Point {
	t.newIDs = t.newIDs[:0]

	if len(rects) == 0 {
		for _, id := range append([]int(nil), t.order...) {
			t.disappeared[id]++
			if t.disappeared[id] > t.maxDisappeared {
				t.deregister(id)
			}
		}
		return t.snapshot()
	}

	inputs := make([]image.Point, len(rects))
	for i, r := range rects {
		inputs[i] = Centroid(r)
	}

	if len(t.centroids) == 0 {
		for _, c := range inputs {
			t.register(c)
		}
		return t.snapshot()
	}

	ids := append([]int(nil), t.order...)

	// Pairwise distances, then rows sorted by their best match.
	dist := make([][]float64, len(ids))
	type rowMin struct {
		row int
		min float64
	}
	mins := make([]rowMin, len(ids))
	for i, id := range ids {
		dist[i] = make([]float64, len(inputs))
		best := math.Inf(1)
		for j, in := range inputs {
			d := euclidean(t.centroids[id], in)
			dist[i][j] = d
			if d < best {
				best = d
			}
		}
		mins[i] = rowMin{row: i, min: best}
	}
	sort.SliceStable(mins, func(a, b int) bool { return mins[a].min < mins[b].min })

	usedRows := make(map[int]bool, len(ids))
	usedCols := make(map[int]bool, len(inputs))

	for _, rm := range mins {
		col := argmin(dist[rm.row])
		if usedRows[rm.row] || usedCols[col] {
			continue
		}
		id := ids[rm.row]
		t.centroids[id] = inputs[col]
		t.disappeared[id] = 0
		usedRows[rm.row] = true
		usedCols[col] = true
	}

	for row, id := range ids {
		if usedRows[row] {
			continue
		}
		t.disappeared[id]++
		if t.disappeared[id] > t.maxDisappeared {
			t.deregister(id)
		}
	}

	for col, c := range inputs {
		if !usedCols[col] {
			t.register(c)
		}
	}

	return t.snapshot()
}

// NewIDs returns the ids registered during the most recent Update call.
// The result is valid only until the next Update; callers use it as the sole
// signal that a new subject just appeared, as opposed to being present.
func (t *Tracker) NewIDs() []int {
	return append([]int(nil), t.newIDs...)
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int {
	return len(t.centroids)
}

// snapshot copies the live id -> centroid mapping.
func (t *Tracker) snapshot() map[int]image.Point {
	out := make(map[int]image.Point, len(t.centroids))
	for id, c := range t.centroids {
		out[id] = c
	}
	return out
}

func euclidean(a, b image.Point) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func argmin(row []float64) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] < row[best] {
			best = j
		}
	}
	return best
}
