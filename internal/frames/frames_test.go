package frames

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

type fakeLister struct {
	frames []Frame
}

func (f *fakeLister) ListFrames(ctx context.Context, inspectionID string) ([]Frame, error) {
	out := make([]Frame, 0, len(f.frames))
	for _, fr := range f.frames {
		if fr.InspectionID == inspectionID {
			out = append(out, fr)
		}
	}
	return out, nil
}

func TestProvider_OrdersByTimestamp(t *testing.T) {
	lister := &fakeLister{frames: []Frame{
		{ID: "c", InspectionID: "i1", Number: 3, Timestamp: 2.0},
		{ID: "a", InspectionID: "i1", Number: 1, Timestamp: 0.0},
		{ID: "x", InspectionID: "i2", Number: 1, Timestamp: 0.5},
		{ID: "b", InspectionID: "i1", Number: 2, Timestamp: 1.0},
	}}
	got, err := NewProvider(lister).Frames(context.Background(), "i1")
	if err != nil {
		t.Fatalf("Frames: %v", err)
	}
	if len(got) != 3 || got[0].ID != "a" || got[1].ID != "b" || got[2].ID != "c" {
		t.Errorf("frames = %+v", got)
	}
}

func TestStore_SaveLoadRemove(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	path, err := store.Save("insp", "f1", []byte("jpeg-bytes"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !store.Owns(path) {
		t.Errorf("store does not own %s", path)
	}
	if store.Owns(filepath.Join(dir, "elsewhere.jpg")) {
		t.Error("store owns a path outside its root")
	}

	data, err := Frame{Number: 1, Path: path}.Load()
	if err != nil || string(data) != "jpeg-bytes" {
		t.Fatalf("Load = %q, %v", data, err)
	}

	if err := store.RemoveInspection("insp"); err != nil {
		t.Fatalf("RemoveInspection: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("frame still present: %v", err)
	}
	if err := store.RemoveInspection("../etc"); err == nil {
		t.Error("expected error for path-like inspection id")
	}
}

func TestFrame_LoadErrors(t *testing.T) {
	if _, err := (Frame{Path: filepath.Join(t.TempDir(), "missing.jpg")}).Load(); err == nil {
		t.Error("expected error for missing file")
	}
	empty := filepath.Join(t.TempDir(), "empty.jpg")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := (Frame{Path: empty}).Load(); err == nil {
		t.Error("expected error for empty file")
	}
}
