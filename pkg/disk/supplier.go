package disk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/downfa11-org/cursus-queue/pkg/resource"
	"github.com/downfa11-org/cursus-queue/pkg/rollcycle"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
)

// ListCycles lists the queue directory afresh, oldest cycle first.
func (p *StorePool) ListCycles() ([]types.CycleFile, error) {
	return listCycleFiles(p.resources)
}

func listCycleFiles(resources *resource.Cache) ([]types.CycleFile, error) {
	entries, err := os.ReadDir(resources.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	files := make([]types.CycleFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !resource.IsQueueFile(e.Name()) {
			continue
		}
		cycle, err := resources.CycleOf(e.Name())
		if err != nil {
			util.Debug("Skipping %s: %v", e.Name(), err)
			continue
		}
		info, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		files = append(files, types.CycleFile{
			Cycle:   cycle,
			Path:    filepath.Join(resources.Dir(), e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Cycle < files[j].Cycle })
	return files, nil
}

// NextCycle returns the neighbouring cycle on disk in direction, or
// rollcycle.NoCycle when there is none. cycle's own file must exist.
func (p *StorePool) NextCycle(cycle int, direction types.Direction) (int, error) {
	if direction != types.DirectionForward && direction != types.DirectionBackward {
		return rollcycle.NoCycle, fmt.Errorf("%w: %v", ErrInvalidDirection, direction)
	}
	files, err := p.ListCycles()
	if err != nil {
		return rollcycle.NoCycle, err
	}

	idx := sort.Search(len(files), func(i int) bool { return files[i].Cycle >= cycle })
	if idx == len(files) || files[idx].Cycle != cycle {
		return rollcycle.NoCycle, fmt.Errorf("%w: cycle %d", ErrCycleFileMissing, cycle)
	}

	switch direction {
	case types.DirectionForward:
		if idx+1 < len(files) {
			return files[idx+1].Cycle, nil
		}
	case types.DirectionBackward:
		if idx > 0 {
			return files[idx-1].Cycle, nil
		}
	}
	return rollcycle.NoCycle, nil
}

// CyclesBetween lists the cycles on disk in [lower, upper], ascending. Both
// endpoints must exist.
func (p *StorePool) CyclesBetween(lower, upper int) ([]int, error) {
	if lower > upper {
		lower, upper = upper, lower
	}
	files, err := p.ListCycles()
	if err != nil {
		return nil, err
	}

	var (
		cycles               []int
		haveLower, haveUpper bool
	)
	for _, f := range files {
		if f.Cycle < lower || f.Cycle > upper {
			continue
		}
		haveLower = haveLower || f.Cycle == lower
		haveUpper = haveUpper || f.Cycle == upper
		cycles = append(cycles, f.Cycle)
	}
	if !haveLower {
		return nil, fmt.Errorf("%w: cycle %d", ErrCycleFileMissing, lower)
	}
	if !haveUpper {
		return nil, fmt.Errorf("%w: cycle %d", ErrCycleFileMissing, upper)
	}
	return cycles, nil
}
