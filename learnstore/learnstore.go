// Package learnstore persists the learned outlet-valve position cache
// described in spec.md §3/§6: a mapping from full-scale value to a
// mapping from rounded setpoint to an ordered list of up to 10 recently
// observed outlet positions that held that setpoint stably. Keyed by
// string representation so any textual key-value format works; this
// implementation uses gopkg.in/yaml.v3, matching the teacher's config
// encoding choice.
package learnstore

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"pressurecal/errcode"
	"pressurecal/x/mathx"
)

const maxEntriesPerSetpoint = 10

// Store is the in-memory, mutex-guarded learned-position cache with
// load/save to a YAML file.
type Store struct {
	mu   sync.Mutex
	path string
	data map[string]map[string][]float64 // fs_str -> setpoint_str -> positions
}

// New creates an empty store that will persist to path.
func New(path string) *Store {
	return &Store{path: path, data: map[string]map[string][]float64{}}
}

// Load reads path if it exists; a missing file yields an empty store,
// since learned positions are created lazily on first successful hold.
func Load(path string) (*Store, error) {
	s := New(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, errcode.Wrap("learnstore.Load", errcode.Error, err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, errcode.Wrap("learnstore.Load", errcode.Error, err)
	}
	if s.data == nil {
		s.data = map[string]map[string][]float64{}
	}
	return s, nil
}

// Save atomically persists the store to its path: write to a temp file
// in the same directory, then rename over the target, per spec.md §5
// ("learned-position file is written atomically at end of run and at
// clean shutdown").
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, err := yaml.Marshal(s.data)
	if err != nil {
		return errcode.Wrap("learnstore.Save", errcode.Error, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return errcode.Wrap("learnstore.Save", errcode.Error, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errcode.Wrap("learnstore.Save", errcode.Error, err)
	}
	return nil
}

func fsKey(fs float64) string { return strconv.FormatFloat(fs, 'g', -1, 64) }

// roundedSetpointKey rounds sp to 3 decimals before keying, per spec.md §3.
func roundedSetpointKey(sp float64) string {
	return fmt.Sprintf("%.3f", sp)
}

// Learn records that outletPos held sp stably for the given FS,
// truncating the per-setpoint list to the 10 most recent entries.
func (s *Store) Learn(fs, sp, outletPos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fk, sk := fsKey(fs), roundedSetpointKey(sp)
	bySetpoint, ok := s.data[fk]
	if !ok {
		bySetpoint = map[string][]float64{}
		s.data[fk] = bySetpoint
	}
	list := append(bySetpoint[sk], outletPos)
	if len(list) > maxEntriesPerSetpoint {
		list = list[len(list)-maxEntriesPerSetpoint:]
	}
	bySetpoint[sk] = list
}

// Predict returns the interpolated outlet position for a new setpoint sp
// at the given FS, averaging observed positions at each known setpoint
// and linearly interpolating between the two nearest known setpoints.
// The second return is false when no learned data exists for this FS.
func (s *Store) Predict(fs, sp float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySetpoint, ok := s.data[fsKey(fs)]
	if !ok || len(bySetpoint) == 0 {
		return 0, false
	}

	type point struct {
		sp, pos float64
	}
	points := make([]point, 0, len(bySetpoint))
	for k, positions := range bySetpoint {
		if len(positions) == 0 {
			continue
		}
		spk, err := strconv.ParseFloat(k, 64)
		if err != nil {
			continue
		}
		points = append(points, point{sp: spk, pos: mean(positions)})
	}
	if len(points) == 0 {
		return 0, false
	}
	sort.Slice(points, func(i, j int) bool { return points[i].sp < points[j].sp })

	if len(points) == 1 {
		return points[0].pos, true
	}
	if sp <= points[0].sp {
		return points[0].pos, true
	}
	if sp >= points[len(points)-1].sp {
		return points[len(points)-1].pos, true
	}
	for i := 0; i+1 < len(points); i++ {
		lo, hi := points[i], points[i+1]
		if sp >= lo.sp && sp <= hi.sp {
			return mathx.Lerp(sp, lo.sp, lo.pos, hi.sp, hi.pos), true
		}
	}
	return points[len(points)-1].pos, true
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
