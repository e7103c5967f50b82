package battle

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/afero"

	"github.com/OCAP2/arena/internal/policy"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/internal/robots"
	"github.com/OCAP2/arena/internal/unit"
	"github.com/OCAP2/arena/pkg/core"
)

// UnitFactory builds a fresh execution unit for a robot at the start of
// every round.
type UnitFactory interface {
	NewUnit(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error)
}

// RobotFactory builds units for the bundled robots named by descriptors.
type RobotFactory struct {
	Registry    *protocol.Registry
	Descriptors []core.RobotDescriptor
	// Fs backs private storage; nil disables it.
	Fs      afero.Fs
	DataDir string
	Quota   int64
	Logger  *slog.Logger
	Grace   time.Duration
}

var _ UnitFactory = (*RobotFactory)(nil)

// NewUnit looks up the robot's entry and wires its private storage.
func (f *RobotFactory) NewUnit(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
	if statics.Index < 0 || statics.Index >= len(f.Descriptors) {
		return nil, fmt.Errorf("no descriptor for robot %d", statics.Index)
	}
	robot, err := robots.Lookup(f.Descriptors[statics.Index].Entry)
	if err != nil {
		return nil, err
	}

	opts := unit.Options{Logger: f.Logger, Notify: notify, Grace: f.Grace}
	if f.Fs != nil {
		store, err := policy.NewStorage(f.Fs, f.DataDir, statics.Name, f.Quota)
		if err != nil {
			return nil, fmt.Errorf("private storage for %s: %w", statics.Name, err)
		}
		opts.Storage = store
	}
	return unit.New(statics, robot, f.Registry, opts), nil
}

// Statics turns descriptors into the per-robot constants of a battle.
// Duplicate names get a " (n)" suffix, teammates share a TeamIndex and the
// first member of a team leads it.
func Statics(descriptors []core.RobotDescriptor) []core.RobotStatics {
	counts := make(map[string]int, len(descriptors))
	for _, d := range descriptors {
		counts[d.Name]++
	}

	out := make([]core.RobotStatics, len(descriptors))
	seen := make(map[string]int, len(descriptors))
	teams := make(map[string]int)
	var members = make(map[string][]string)

	for i, d := range descriptors {
		name := d.Name
		if counts[d.Name] > 1 {
			seen[d.Name]++
			name = fmt.Sprintf("%s (%d)", d.Name, seen[d.Name])
		}

		s := core.RobotStatics{
			Index:     i,
			Name:      name,
			ShortName: d.Name,
			Class:     d.Class,
			TeamName:  d.TeamName,
			TeamIndex: i,
			IsSentry:  d.Sentry,
		}
		if d.TeamName != "" {
			if first, ok := teams[d.TeamName]; ok {
				s.TeamIndex = first
			} else {
				teams[d.TeamName] = i
				s.IsTeamLeader = true
			}
			members[d.TeamName] = append(members[d.TeamName], name)
		}
		out[i] = s
	}

	for i := range out {
		if out[i].TeamName != "" {
			out[i].TeamMembers = members[out[i].TeamName]
		}
	}
	return out
}
