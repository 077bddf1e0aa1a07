// Package catalog loads spell definitions from YAML, validates them against
// an embedded JSON schema and compiles them into castable spells.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"skirmish/internal/game/abilities"
	"skirmish/internal/game/effect"
	"skirmish/internal/game/interaction"
	"skirmish/internal/game/world"
)

var (
	// ErrInvalidCatalog wraps schema violations and malformed YAML.
	ErrInvalidCatalog = errors.New("invalid spell catalog")
	// ErrMissingBuilder is returned for a buff preset nobody registered.
	ErrMissingBuilder = errors.New("missing buff builder")
)

//go:embed schema.json
var schemaJSON string

//go:embed spells.yaml
var defaultCatalog []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("catalog.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// File is the decoded catalog document.
type File struct {
	Spells []SpellDef `yaml:"spells"`
}

// SpellDef is one catalog entry. Field meaning depends on Shape, see
// abilities.Definition.
type SpellDef struct {
	Name            string     `yaml:"name"`
	TypeID          int        `yaml:"type_id"`
	Shape           string     `yaml:"shape"`
	Cooldown        float64    `yaml:"cooldown"`
	Range           float64    `yaml:"range"`
	CastTime        float64    `yaml:"cast_time"`
	CastWhileMoving bool       `yaml:"cast_while_moving"`
	Damage          float64    `yaml:"damage"`
	Radius          float64    `yaml:"radius"`
	HalfAngle       float64    `yaml:"half_angle"`
	Speed           float64    `yaml:"speed"`
	Impulse         float64    `yaml:"impulse"`
	Falloff         string     `yaml:"falloff"`
	SecondaryDamage float64    `yaml:"secondary_damage"`
	SecondaryRadius float64    `yaml:"secondary_radius"`
	Hazard          *HazardDef `yaml:"hazard"`
	Buffs           []BuffDef  `yaml:"buffs"`
}

type HazardDef struct {
	Name     string  `yaml:"name"`
	Radius   float64 `yaml:"radius"`
	Delay    float64 `yaml:"delay"`
	Lifetime float64 `yaml:"lifetime"`
	DPS      float64 `yaml:"dps"`
	Slow     float64 `yaml:"slow"`
}

// BuffDef describes a buff either by effect kind or by a registered preset.
// Kind wins when both are set.
type BuffDef struct {
	Kind       string  `yaml:"kind"`
	Preset     string  `yaml:"preset"`
	TypeID     int     `yaml:"type_id"`
	Name       string  `yaml:"name"`
	Friendly   bool    `yaml:"friendly"`
	Duration   float64 `yaml:"duration"`
	Factor     float64 `yaml:"factor"`
	Constant   float64 `yaml:"constant"`
	Amount     float64 `yaml:"amount"`
	Protection float64 `yaml:"protection"`
}

// Preset builds a buff that cannot be expressed as a plain effect kind.
type Preset func(b BuffDef) effect.Builder

var (
	presetsMu sync.RWMutex
	presets   = map[string]Preset{
		"speed_per_health_missing": func(b BuffDef) effect.Builder {
			return named(b, func() *effect.Effect { return effect.SpeedPerHealthMissing(b.Duration) })
		},
		"damage_per_health": func(b BuffDef) effect.Builder {
			return named(b, func() *effect.Effect { return effect.DamagePerHealth(b.Duration) })
		},
	}
)

// RegisterPreset makes name available to catalog buffs. Registering an
// existing name replaces it.
func RegisterPreset(name string, p Preset) {
	presetsMu.Lock()
	defer presetsMu.Unlock()
	presets[name] = p
}

func named(b BuffDef, build func() *effect.Effect) effect.Builder {
	return effect.BuilderFunc(func() *effect.Effect {
		e := build()
		e.TypeID = b.TypeID
		e.Friendly = b.Friendly
		if b.Name != "" {
			e.Name = b.Name
		}
		return e
	})
}

// Load reads and compiles the catalog at path. An empty path selects the
// built-in catalog.
func Load(path string) ([]*world.Spell, error) {
	if path == "" {
		return Default()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	spells, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spells, nil
}

// Default compiles the built-in catalog.
func Default() ([]*world.Spell, error) {
	return Parse(defaultCatalog)
}

// Parse validates raw YAML and compiles every spell in document order.
func Parse(raw []byte) ([]*world.Spell, error) {
	if err := validate(raw); err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	seen := make(map[string]bool, len(f.Spells))
	spells := make([]*world.Spell, 0, len(f.Spells))
	for _, def := range f.Spells {
		if seen[def.Name] {
			return nil, fmt.Errorf("%w: duplicate spell %q", ErrInvalidCatalog, def.Name)
		}
		seen[def.Name] = true

		d, err := def.Definition()
		if err != nil {
			return nil, fmt.Errorf("spell %q: %w", def.Name, err)
		}
		s, err := abilities.NewSpell(d)
		if err != nil {
			return nil, err
		}
		spells = append(spells, s)
	}
	return spells, nil
}

// validate checks raw against the schema. The YAML tree is round-tripped
// through JSON so the validator sees JSON types only.
func validate(raw []byte) error {
	sch, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile catalog schema: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	js, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	var v any
	if err := json.Unmarshal(js, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return nil
}

// Definition converts d into an ability definition with its buff builders
// resolved.
func (d SpellDef) Definition() (abilities.Definition, error) {
	out := abilities.Definition{
		Name:            d.Name,
		TypeID:          d.TypeID,
		Shape:           d.Shape,
		Cooldown:        d.Cooldown,
		Range:           d.Range,
		CastTime:        d.CastTime,
		CastWhileMoving: d.CastWhileMoving,
		Damage:          d.Damage,
		Radius:          d.Radius,
		HalfAngle:       d.HalfAngle,
		Speed:           d.Speed,
		Impulse:         d.Impulse,
		SecondaryDamage: d.SecondaryDamage,
		SecondaryRadius: d.SecondaryRadius,
	}

	switch d.Falloff {
	case "", "linear":
		out.Falloff = interaction.FalloffLinear
	case "constant":
		out.Falloff = interaction.FalloffConstant
	default:
		return out, fmt.Errorf("%w: falloff %q", ErrInvalidCatalog, d.Falloff)
	}

	if h := d.Hazard; h != nil {
		out.Hazard = abilities.Hazard{
			Name:     h.Name,
			Radius:   h.Radius,
			Delay:    h.Delay,
			Lifetime: h.Lifetime,
			DPS:      h.DPS,
			Slow:     h.Slow,
		}
	}

	for i, b := range d.Buffs {
		builder, err := b.Builder()
		if err != nil {
			return out, fmt.Errorf("buff %d: %w", i, err)
		}
		out.Buffs = append(out.Buffs, builder)
	}
	return out, nil
}

// Builder resolves b to an effect builder.
func (b BuffDef) Builder() (effect.Builder, error) {
	if b.Kind == "" {
		presetsMu.RLock()
		p, ok := presets[b.Preset]
		presetsMu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("%w: preset %q", ErrMissingBuilder, b.Preset)
		}
		return p(b), nil
	}

	kind, err := effect.ParseKind(b.Kind)
	if err != nil {
		return nil, err
	}
	spec := effect.Spec{
		Kind:       kind,
		TypeID:     b.TypeID,
		Name:       b.Name,
		Friendly:   b.Friendly,
		Duration:   b.Duration,
		Factor:     b.Factor,
		Constant:   b.Constant,
		Amount:     b.Amount,
		Protection: b.Protection,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
