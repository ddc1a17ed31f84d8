// Package frames provides the sampled video frames of an inspection. Frames
// are registered per inspection; their image bytes live on disk and are read
// on demand.
package frames

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Ref identifies a frame in findings and logs.
type Ref struct {
	ID        string  `json:"frame_id"`
	Number    int     `json:"frame_number"`
	Timestamp float64 `json:"timestamp"`
}

type Frame struct {
	ID           string    `json:"id"`
	InspectionID string    `json:"inspection_id"`
	Number       int       `json:"frame_number"`
	Timestamp    float64   `json:"timestamp"`
	Path         string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

func (f Frame) Ref() Ref {
	return Ref{ID: f.ID, Number: f.Number, Timestamp: f.Timestamp}
}

// Load reads the frame image.
func (f Frame) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read frame %d: %w", f.Number, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("read frame %d: empty image", f.Number)
	}
	return data, nil
}

// Lister returns the frames registered for an inspection.
type Lister interface {
	ListFrames(ctx context.Context, inspectionID string) ([]Frame, error)
}

// Provider hands the analysis pipeline the frames of an inspection, ordered
// by timestamp.
type Provider struct {
	lister Lister
}

func NewProvider(lister Lister) *Provider {
	return &Provider{lister: lister}
}

func (p *Provider) Frames(ctx context.Context, inspectionID string) ([]Frame, error) {
	frames, err := p.lister.ListFrames(ctx, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	sort.SliceStable(frames, func(i, j int) bool {
		if frames[i].Timestamp != frames[j].Timestamp {
			return frames[i].Timestamp < frames[j].Timestamp
		}
		return frames[i].Number < frames[j].Number
	})
	return frames, nil
}

// Store keeps uploaded frame images under root/frames/<inspection id>/.
type Store struct {
	root string
}

func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "frames")}
}

func (s *Store) Root() string {
	return s.root
}

// Save writes an uploaded frame image and returns its path.
func (s *Store) Save(inspectionID, frameID string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty frame image")
	}
	dir := filepath.Join(s.root, inspectionID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create frame dir: %w", err)
	}
	path := filepath.Join(dir, frameID+".jpg")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write frame: %w", err)
	}
	return path, nil
}

// Owns reports whether path lies inside the store, so callers never remove
// frame files registered from elsewhere on disk.
func (s *Store) Owns(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}

// RemoveInspection deletes every stored frame of an inspection.
func (s *Store) RemoveInspection(inspectionID string) error {
	if inspectionID == "" || strings.ContainsAny(inspectionID, `/\`) {
		return fmt.Errorf("invalid inspection id %q", inspectionID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, inspectionID)); err != nil {
		return fmt.Errorf("remove frames: %w", err)
	}
	return nil
}
