// Package loader reads YAML battle files. A file is checked against an
// embedded JSON schema before it is decoded, so structural errors point at
// the offending field.
package loader

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/OCAP2/arena/pkg/core"
)

//go:embed battle.schema.json
var schemaJSON []byte

const schemaURL = "battle.schema.json"

// File is a decoded battle file.
type File struct {
	Name   string      `yaml:"name"`
	Rules  Overrides   `yaml:"rules"`
	Robots []RobotSpec `yaml:"robots"`
}

// Overrides replaces the configured rules field by field. Unset fields keep
// the configured value.
type Overrides struct {
	Width            *int     `yaml:"width"`
	Height           *int     `yaml:"height"`
	NumRounds        *int     `yaml:"numRounds"`
	GunCoolingRate   *float64 `yaml:"gunCoolingRate"`
	InactivityTime   *int     `yaml:"inactivityTime"`
	MaxTurns         *int     `yaml:"maxTurns"`
	FileQuota        *int64   `yaml:"fileQuota"`
	TurnTimeout      *string  `yaml:"turnTimeout"`
	MaxSkippedTurns  *int     `yaml:"maxSkippedTurns"`
	Seed             *int64   `yaml:"seed"`
	InitialPositions *string  `yaml:"initialPositions"`
	SentryBorderSize *int     `yaml:"sentryBorderSize"`
}

// RobotSpec is one entry of the robots list. Count repeats the entry.
type RobotSpec struct {
	Entry string `yaml:"entry"`
	Name  string `yaml:"name"`
	Class string `yaml:"class"`
	Team   string `yaml:"team"`
	Count  int    `yaml:"count"`
	Sentry bool   `yaml:"sentry"`
}

// Battle is what a battle file resolves to.
type Battle struct {
	Name   string
	Rules  core.BattleRules
	Robots []core.RobotDescriptor
}

var battleSchema = jsonschema.MustCompileString(schemaURL, string(schemaJSON))

// Load reads and resolves the battle file at path on top of base.
func Load(path string, base core.BattleRules) (Battle, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Battle{}, err
	}
	out, err := Parse(b, base)
	if err != nil {
		return out, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// Parse validates and resolves a battle file.
func Parse(data []byte, base core.BattleRules) (Battle, error) {
	f, err := Decode(data)
	if err != nil {
		return Battle{}, err
	}
	return f.Resolve(base)
}

// Decode validates data against the schema and decodes it.
func Decode(data []byte) (File, error) {
	var f File
	if err := Validate(data); err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode battle file: %w", err)
	}
	return f, nil
}

// Validate checks data against the battle file schema.
func Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse battle file: %w", err)
	}
	// The validator works on JSON values; round trip so numbers and maps
	// have the shapes it expects.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("battle file is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("parse battle file: %w", err)
	}
	if err := battleSchema.Validate(v); err != nil {
		return fmt.Errorf("invalid battle file: %w", err)
	}
	return nil
}

// Resolve applies the overrides to base and expands the robot list.
func (f File) Resolve(base core.BattleRules) (Battle, error) {
	rules, err := f.Rules.Apply(base)
	if err != nil {
		return Battle{}, err
	}
	if err := rules.Validate(); err != nil {
		return Battle{}, fmt.Errorf("invalid rules: %w", err)
	}

	var robots []core.RobotDescriptor
	for i, spec := range f.Robots {
		class := core.ClassStandard
		if spec.Class != "" {
			if class, err = core.ParseCapabilityClass(spec.Class); err != nil {
				return Battle{}, fmt.Errorf("robot %d: %w", i, err)
			}
		}
		if spec.Team != "" && class != core.ClassTeam {
			return Battle{}, fmt.Errorf("robot %d: team %q requires class team", i, spec.Team)
		}
		name := spec.Name
		if name == "" {
			name = spec.Entry
		}
		count := spec.Count
		if count == 0 {
			count = 1
		}
		for n := 0; n < count; n++ {
			robots = append(robots, core.RobotDescriptor{
				Name:     name,
				Entry:    spec.Entry,
				Class:    class,
				TeamName: spec.Team,
				Sentry:   spec.Sentry,
			})
		}
	}

	return Battle{Name: f.Name, Rules: rules, Robots: robots}, nil
}

// Apply returns base with every set override replaced.
func (o Overrides) Apply(base core.BattleRules) (core.BattleRules, error) {
	r := base
	setInt(&r.BattlefieldWidth, o.Width)
	setInt(&r.BattlefieldHeight, o.Height)
	setInt(&r.NumRounds, o.NumRounds)
	setInt(&r.InactivityTime, o.InactivityTime)
	setInt(&r.MaxTurns, o.MaxTurns)
	setInt(&r.MaxSkippedTurns, o.MaxSkippedTurns)
	setInt(&r.SentryBorderSize, o.SentryBorderSize)
	if o.GunCoolingRate != nil {
		r.GunCoolingRate = *o.GunCoolingRate
	}
	if o.FileQuota != nil {
		r.FileQuota = *o.FileQuota
	}
	if o.Seed != nil {
		r.Seed = *o.Seed
	}
	if o.InitialPositions != nil {
		r.InitialPositions = *o.InitialPositions
	}
	if o.TurnTimeout != nil {
		d, err := time.ParseDuration(*o.TurnTimeout)
		if err != nil {
			return r, fmt.Errorf("turnTimeout: %w", err)
		}
		r.TurnTimeout = d
	}
	return r, nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
