package distributed

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// ProcessMesh arranges process ranks in an N-d grid. ProcessIDs lists the
// ranks in row-major order of Shape.
type ProcessMesh struct {
	shape      []int
	processIDs []int
	dimNames   []string
}

// NewProcessMesh validates and builds a mesh. Dimension names default to
// "d0", "d1", ...
func NewProcessMesh(shape, processIDs []int, dimNames ...string) (*ProcessMesh, error) {
	if len(shape) == 0 {
		return nil, errors.New("process mesh needs at least one dimension")
	}
	size := 1
	for i, d := range shape {
		if d <= 0 {
			return nil, errors.Errorf("process mesh dimension %d has size %d", i, d)
		}
		size *= d
	}
	if size != len(processIDs) {
		return nil, errors.Errorf("process mesh of shape %v holds %d processes, got %d ids", shape, size, len(processIDs))
	}
	seen := make(map[int]bool, len(processIDs))
	for _, id := range processIDs {
		if id < 0 {
			return nil, errors.Errorf("process mesh has negative rank %d", id)
		}
		if seen[id] {
			return nil, errors.Errorf("process mesh lists rank %d twice", id)
		}
		seen[id] = true
	}
	if len(dimNames) == 0 {
		for i := range shape {
			dimNames = append(dimNames, fmt.Sprintf("d%d", i))
		}
	} else if len(dimNames) != len(shape) {
		return nil, errors.Errorf("process mesh has %d dimensions but %d names", len(shape), len(dimNames))
	}
	return &ProcessMesh{
		shape:      slices.Clone(shape),
		processIDs: slices.Clone(processIDs),
		dimNames:   slices.Clone(dimNames),
	}, nil
}

func (m *ProcessMesh) Shape() []int       { return slices.Clone(m.shape) }
func (m *ProcessMesh) ProcessIDs() []int  { return slices.Clone(m.processIDs) }
func (m *ProcessMesh) DimNames() []string { return slices.Clone(m.dimNames) }
func (m *ProcessMesh) NDim() int          { return len(m.shape) }
func (m *ProcessMesh) Size() int          { return len(m.processIDs) }

// DimSize returns the extent of axis, or 0 when axis is out of range.
func (m *ProcessMesh) DimSize(axis int) int {
	if axis < 0 || axis >= len(m.shape) {
		return 0
	}
	return m.shape[axis]
}

func (m *ProcessMesh) Contains(rank int) bool { return slices.Contains(m.processIDs, rank) }

func (m *ProcessMesh) Equal(o *ProcessMesh) bool {
	return o != nil && slices.Equal(m.shape, o.shape) && slices.Equal(m.processIDs, o.processIDs)
}

func (m *ProcessMesh) String() string {
	return fmt.Sprintf("mesh%v%v", m.shape, m.processIDs)
}

// CommGroup returns the ranks that share every mesh coordinate with rank
// except the one along axis, sorted ascending.
func (m *ProcessMesh) CommGroup(axis, rank int) ([]int, error) {
	if axis < 0 || axis >= len(m.shape) {
		return nil, errors.Errorf("axis %d out of range for %v", axis, m)
	}
	idx := slices.Index(m.processIDs, rank)
	if idx < 0 {
		return nil, errors.Errorf("rank %d is not in %v", rank, m)
	}
	coord := m.coordinate(idx)
	group := make([]int, 0, m.shape[axis])
	for i := 0; i < m.shape[axis]; i++ {
		coord[axis] = i
		group = append(group, m.processIDs[m.linearIndex(coord)])
	}
	slices.Sort(group)
	return group, nil
}

func (m *ProcessMesh) coordinate(idx int) []int {
	coord := make([]int, len(m.shape))
	for i := len(m.shape) - 1; i >= 0; i-- {
		coord[i] = idx % m.shape[i]
		idx /= m.shape[i]
	}
	return coord
}

func (m *ProcessMesh) linearIndex(coord []int) int {
	idx := 0
	for i, c := range coord {
		idx = idx*m.shape[i] + c
	}
	return idx
}
