package track

import (
	"image"
	"testing"
)

func box(x, y int) image.Rectangle {
	return image.Rect(x-10, y-10, x+10, y+10)
}

func TestTracker_RegisterFirstDetections(t *testing.T) {
	tr := New(3)

	objects := tr.Update([]image.Rectangle{box(50, 50), box(200, 200)})

	if len(objects) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(objects))
	}

	newIDs := tr.NewIDs()
	if len(newIDs) != 2 {
		t.Fatalf("expected 2 new ids, got %v", newIDs)
	}
	if newIDs[0] != 0 || newIDs[1] != 1 {
		t.Errorf("expected ids [0 1], got %v", newIDs)
	}

	if got := objects[0]; got != image.Pt(50, 50) {
		t.Errorf("track 0 centroid: got %v, want (50,50)", got)
	}
	if got := objects[1]; got != image.Pt(200, 200) {
		t.Errorf("track 1 centroid: got %v, want (200,200)", got)
	}
}

func TestTracker_MatchKeepsIdentity(t *testing.T) {
	tr := New(3)

	tr.Update([]image.Rectangle{box(50, 50)})

	// Subject drifts a little; same identity, updated centroid.
	objects := tr.Update([]image.Rectangle{box(55, 52)})

	if len(objects) != 1 {
		t.Fatalf("expected 1 track, got %d", len(objects))
	}
	if got := objects[0]; got != image.Pt(55, 52) {
		t.Errorf("centroid not updated: got %v, want (55,52)", got)
	}
	if ids := tr.NewIDs(); len(ids) != 0 {
		t.Errorf("matched detection must not count as new, got %v", ids)
	}
}

func TestTracker_NewIDsResetEachUpdate(t *testing.T) {
	tr := New(3)

	tr.Update([]image.Rectangle{box(50, 50)})
	if ids := tr.NewIDs(); len(ids) != 1 {
		t.Fatalf("expected 1 new id after first update, got %v", ids)
	}

	tr.Update([]image.Rectangle{box(51, 51)})
	if ids := tr.NewIDs(); len(ids) != 0 {
		t.Errorf("expected no new ids after match, got %v", ids)
	}

	// A second, distant subject shows up: exactly one new id.
	tr.Update([]image.Rectangle{box(52, 52), box(300, 300)})
	ids := tr.NewIDs()
	if len(ids) != 1 {
		t.Fatalf("expected 1 new id, got %v", ids)
	}
	if ids[0] != 1 {
		t.Errorf("expected new id 1, got %d", ids[0])
	}
}

func TestTracker_DeregisterAfterMaxDisappeared(t *testing.T) {
	maxDisappeared := 3
	tr := New(maxDisappeared)

	tr.Update([]image.Rectangle{box(50, 50)})

	// maxDisappeared empty updates keep the track alive.
	for i := 0; i < maxDisappeared; i++ {
		objects := tr.Update(nil)
		if len(objects) != 1 {
			t.Fatalf("update %d: track expired too early", i+1)
		}
		if ids := tr.NewIDs(); len(ids) != 0 {
			t.Errorf("update %d: empty input must not register ids, got %v", i+1, ids)
		}
	}

	// One more empty update pushes the counter past the limit.
	objects := tr.Update(nil)
	if len(objects) != 0 {
		t.Fatalf("expected track to be deregistered, got %v", objects)
	}
}

func TestTracker_IDsNeverReused(t *testing.T) {
	tr := New(1)

	tr.Update([]image.Rectangle{box(50, 50)})
	tr.Update(nil)
	tr.Update(nil) // id 0 retired here

	if tr.Len() != 0 {
		t.Fatalf("expected no live tracks, got %d", tr.Len())
	}

	// A new subject at the exact same spot must get a fresh id.
	tr.Update([]image.Rectangle{box(50, 50)})
	ids := tr.NewIDs()
	if len(ids) != 1 {
		t.Fatalf("expected 1 new id, got %v", ids)
	}
	if ids[0] == 0 {
		t.Error("retired id 0 was reused")
	}
	if ids[0] != 1 {
		t.Errorf("expected id 1, got %d", ids[0])
	}
}

func TestTracker_NoDuplicateLiveIDs(t *testing.T) {
	tr := New(5)

	// Churn through a series of appearing, moving, and vanishing subjects.
	sequences := [][]image.Rectangle{
		{box(10, 10), box(100, 100)},
		{box(15, 12), box(105, 103), box(250, 250)},
		{box(20, 14), box(255, 252)},
		nil,
		{box(25, 16), box(260, 254), box(400, 10)},
	}

	for step, rects := range sequences {
		objects := tr.Update(rects)
		seen := make(map[int]bool, len(objects))
		for id := range objects {
			if seen[id] {
				t.Fatalf("step %d: duplicate live id %d", step, id)
			}
			seen[id] = true
		}
	}
}

func TestTracker_GreedyMatchPrefersClosestTrack(t *testing.T) {
	tr := New(3)

	tr.Update([]image.Rectangle{box(0, 0), box(100, 0)})

	// One input sits between the two tracks but nearer to track 1.
	objects := tr.Update([]image.Rectangle{box(80, 0)})

	if got := objects[1]; got != image.Pt(80, 0) {
		t.Errorf("closest track should claim the input: got %v for id 1", got)
	}
	if got := objects[0]; got != image.Pt(0, 0) {
		t.Errorf("unmatched track must keep its centroid: got %v for id 0", got)
	}
	if ids := tr.NewIDs(); len(ids) != 0 {
		t.Errorf("no new ids expected, got %v", ids)
	}
}

func TestTracker_UnmatchedInputBecomesNewTrack(t *testing.T) {
	tr := New(3)

	tr.Update([]image.Rectangle{box(50, 50)})
	objects := tr.Update([]image.Rectangle{box(52, 50), box(500, 500)})

	if len(objects) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(objects))
	}

	ids := tr.NewIDs()
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected exactly new id 1, got %v", ids)
	}
	if got := objects[1]; got != image.Pt(500, 500) {
		t.Errorf("new track centroid: got %v, want (500,500)", got)
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid(image.Rect(10, 20, 30, 60))
	if c != image.Pt(20, 40) {
		t.Errorf("got %v, want (20,40)", c)
	}
}
