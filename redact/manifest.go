package redact

import (
	"errors"
	"fmt"
	"io"
	"math"

	jsoniter "github.com/json-iterator/go"

	"github.com/wudi/pdfredact/coords"
	"github.com/wudi/pdfredact/snapshot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrInvalidManifest is returned for manifests that parse but break the schema.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is the ordered list of records for one document. It is the only key
// to reversing a redaction.
type Manifest struct {
	Records []Record
	index   map[string]int
}

type manifestFile struct {
	Regions []manifestEntry `json:"regions"`
}

type manifestEntry struct {
	UUID      string     `json:"uuid"`
	Page      int        `json:"page"`
	BBox      [4]float64 `json:"bbox"`
	Label     string     `json:"label"`
	Text      string     `json:"text"`
	Score     float64    `json:"score"`
	ImagePath string     `json:"image_path"`
}

func NewManifest(records []Record) *Manifest {
	m := &Manifest{Records: append([]Record(nil), records...)}
	m.reindex()
	return m
}

func (m *Manifest) reindex() {
	m.index = make(map[string]int, len(m.Records))
	for i, r := range m.Records {
		if _, dup := m.index[r.ID]; !dup {
			m.index[r.ID] = i
		}
	}
}

// Lookup finds a record by id.
func (m *Manifest) Lookup(id string) (Record, bool) {
	if m == nil {
		return Record{}, false
	}
	if m.index == nil {
		m.reindex()
	}
	i, ok := m.index[id]
	if !ok {
		return Record{}, false
	}
	return m.Records[i], true
}

// Without returns a copy of m lacking the given ids.
func (m *Manifest) Without(ids ...string) *Manifest {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	var kept []Record
	for _, r := range m.Records {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	return NewManifest(kept)
}

// Handles lists the snapshot handles the manifest references.
func (m *Manifest) Handles() []snapshot.Handle {
	out := make([]snapshot.Handle, 0, len(m.Records))
	for _, r := range m.Records {
		if r.Snapshot != "" {
			out = append(out, r.Snapshot)
		}
	}
	return out
}

// Validate checks ids, pages, boxes and scores.
func (m *Manifest) Validate() error {
	seen := make(map[string]bool, len(m.Records))
	for i, r := range m.Records {
		if !snapshot.ValidID(r.ID) {
			return fmt.Errorf("%w: region %d: uuid %q is not 32 lowercase hex characters", ErrInvalidManifest, i, r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("%w: region %d: duplicate uuid %s", ErrInvalidManifest, i, r.ID)
		}
		seen[r.ID] = true
		if r.Page < 1 {
			return fmt.Errorf("%w: region %d: page %d", ErrInvalidManifest, i, r.Page)
		}
		for _, v := range r.BBox.Array() {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: region %d: bbox is not finite", ErrInvalidManifest, i)
			}
		}
		if r.BBox.Empty() {
			return fmt.Errorf("%w: region %d: bbox has no area", ErrInvalidManifest, i)
		}
		if r.Score < 0 || r.Score > 1 || math.IsNaN(r.Score) {
			return fmt.Errorf("%w: region %d: score %v outside [0,1]", ErrInvalidManifest, i, r.Score)
		}
	}
	return nil
}

func (m *Manifest) file() manifestFile {
	f := manifestFile{Regions: make([]manifestEntry, 0, len(m.Records))}
	for _, r := range m.Records {
		f.Regions = append(f.Regions, manifestEntry{
			UUID:      r.ID,
			Page:      r.Page,
			BBox:      r.BBox.Array(),
			Label:     r.Label,
			Text:      r.Text,
			Score:     r.Score,
			ImagePath: string(r.Snapshot),
		})
	}
	return f
}

func (m *Manifest) MarshalJSON() ([]byte, error) { return json.Marshal(m.file()) }

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var f manifestFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if f.Regions == nil {
		return fmt.Errorf("%w: missing regions", ErrInvalidManifest)
	}
	records := make([]Record, 0, len(f.Regions))
	for _, e := range f.Regions {
		records = append(records, Record{
			ID:       e.UUID,
			Page:     e.Page,
			BBox:     coords.Rect{X0: e.BBox[0], Y0: e.BBox[1], X1: e.BBox[2], Y1: e.BBox[3]},
			Label:    e.Label,
			Text:     e.Text,
			Score:    e.Score,
			Snapshot: snapshot.Handle(e.ImagePath),
		})
	}
	m.Records = records
	m.reindex()
	return nil
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		if errors.Is(err, ErrInvalidManifest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// ReadManifest reads at most limit bytes (when positive) and parses them.
func ReadManifest(r io.Reader, limit int64) (*Manifest, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrInvalidManifest, limit)
	}
	return ParseManifest(data)
}

// Encode writes the manifest as indented JSON.
func (m *Manifest) Encode(w io.Writer) error {
	data, err := json.MarshalIndent(m.file(), "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
