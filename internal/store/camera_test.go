package store

import (
	"errors"
	"testing"
)

func TestCameraCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	repo := s.Cameras()

	c := &Camera{ID: "cam1", URL: "rtsp://10.0.0.5/stream", Label: "lab entrance"}
	if err := repo.Create(c); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID("cam1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.URL != c.URL || got.Label != c.Label {
		t.Errorf("got %+v, want url=%s label=%s", got, c.URL, c.Label)
	}
}

func TestCameraCreateDuplicate(t *testing.T) {
	s := newTestStore(t)
	repo := s.Cameras()

	if err := repo.Create(&Camera{ID: "cam1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := repo.Create(&Camera{ID: "cam1"})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("got %v, want ErrDuplicate", err)
	}
}

func TestCameraGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Cameras().GetByID("nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestCameraListAndDelete(t *testing.T) {
	s := newTestStore(t)
	repo := s.Cameras()

	repo.Create(&Camera{ID: "cam1"})
	repo.Create(&Camera{ID: "cam2"})

	cameras, err := repo.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cameras) != 2 {
		t.Fatalf("got %d cameras, want 2", len(cameras))
	}

	if err := repo.Delete("cam1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.Delete("cam1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: got %v, want ErrNotFound", err)
	}
}
