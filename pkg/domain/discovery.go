package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/devsec-arena/arena/pkg/arena"
)

// MissionFileName is the per-level metadata file. A level directory
// without one is not a playable challenge.
const MissionFileName = "mission.yaml"

// levelDirPattern matches level directories and captures their ordinal.
var levelDirPattern = regexp.MustCompile(`^level-(\d+)`)

// mission is the schema of mission.yaml.
type mission struct {
	Name         string   `yaml:"name" validate:"required"`
	XP           int      `yaml:"xp" validate:"required,gt=0"`
	Difficulty   string   `yaml:"difficulty"`
	Concepts     []string `yaml:"concepts"`
	ExpectedTime string   `yaml:"expected_time"`
}

// DiscoverChallenges scans one world directory and returns its playable
// challenges ordered by level number. Levels missing mission.yaml or the
// validator script are skipped with a logged warning; discovery never
// fails the whole world over one broken level.
func (d *Domain) DiscoverChallenges(world string) ([]arena.Challenge, error) {
	worldIndex := -1
	for i, w := range d.config.Worlds {
		if w == world {
			worldIndex = i + 1
			break
		}
	}
	if worldIndex == -1 {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("world %q is not declared by domain %s", world, d.config.ID), nil).
			WithCode(arena.ErrCodeDiscoveryFailed).
			WithOperation("discover")
	}

	worldDir := filepath.Join(d.dir, world)
	entries, err := os.ReadDir(worldDir)
	if err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("reading world directory %q", world), err).
			WithCode(arena.ErrCodeDiscoveryFailed).
			WithOperation("discover")
	}

	type candidate struct {
		dir   string
		index int
	}
	var candidates []candidate
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m := levelDirPattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		index, _ := strconv.Atoi(m[1])
		candidates = append(candidates, candidate{dir: entry.Name(), index: index})
	}
	// Numeric order, so level-10 sorts after level-2.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].index != candidates[j].index {
			return candidates[i].index < candidates[j].index
		}
		return candidates[i].dir < candidates[j].dir
	})

	var challenges []arena.Challenge
	for _, c := range candidates {
		levelPath := filepath.Join(worldDir, c.dir)
		ch, err := d.loadLevel(levelPath, world, worldIndex, c.index)
		if err != nil {
			d.logger.Warn().
				Str("level", filepath.Join(world, c.dir)).
				Err(err).
				Msg("skipping level")
			continue
		}
		challenges = append(challenges, *ch)
	}
	return challenges, nil
}

// loadLevel reads one level's mission.yaml and checks it is playable.
func (d *Domain) loadLevel(levelPath, world string, worldIndex, levelIndex int) (*arena.Challenge, error) {
	data, err := os.ReadFile(filepath.Join(levelPath, MissionFileName))
	if err != nil {
		return nil, arena.NewPermanentError("missing mission.yaml", err).
			WithCode(arena.ErrCodeDiscoveryFailed)
	}
	var m mission
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, arena.NewPermanentError("malformed mission.yaml", err).
			WithCode(arena.ErrCodeDiscoveryFailed)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, arena.NewPermanentError("invalid mission.yaml", err).
			WithCode(arena.ErrCodeDiscoveryFailed)
	}
	if _, err := os.Stat(filepath.Join(levelPath, d.scriptName)); err != nil {
		return nil, arena.NewPermanentError(
			fmt.Sprintf("missing validator script %s", d.scriptName), err).
			WithCode(arena.ErrCodeDiscoveryFailed)
	}

	return &arena.Challenge{
		ID:           world + "/" + filepath.Base(levelPath),
		Name:         m.Name,
		World:        world,
		WorldIndex:   worldIndex,
		LevelIndex:   levelIndex,
		XP:           m.XP,
		Difficulty:   m.Difficulty,
		Concepts:     m.Concepts,
		ExpectedTime: m.ExpectedTime,
		Path:         levelPath,
	}, nil
}

// AllChallenges discovers every world in declaration order, caching the
// result until Invalidate is called.
func (d *Domain) AllChallenges() ([]arena.Challenge, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache != nil {
		return d.cache, nil
	}

	var all []arena.Challenge
	for _, world := range d.config.Worlds {
		challenges, err := d.DiscoverChallenges(world)
		if err != nil {
			return nil, err
		}
		all = append(all, challenges...)
	}
	d.cache = all
	return all, nil
}

// Invalidate drops the discovery cache. The content watcher calls it when
// level files change on disk.
func (d *Domain) Invalidate() {
	d.mu.Lock()
	d.cache = nil
	d.mu.Unlock()
}
