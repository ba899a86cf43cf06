package agent

// Dimension is one axis of the scoring space.
type Dimension string

const (
	DimTimeline  Dimension = "timeline"
	DimResources Dimension = "resources"
	DimQuality   Dimension = "quality"
	DimRisk      Dimension = "risk"
	DimStrategy  Dimension = "strategy"
)

// Dimensions lists every scoring dimension in a stable order.
var Dimensions = []Dimension{DimTimeline, DimResources, DimQuality, DimRisk, DimStrategy}

// Weights maps a scoring dimension to its relative importance for a role.
type Weights map[Dimension]float64

// Sum returns the total weight across known dimensions.
func (w Weights) Sum() float64 {
	var total float64
	for _, d := range Dimensions {
		total += w[d]
	}
	return total
}

func (w Weights) clone() Weights {
	out := make(Weights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// UniformWeights is returned for roles without a table entry.
func UniformWeights() Weights {
	w := make(Weights, len(Dimensions))
	for _, d := range Dimensions {
		w[d] = 1.0 / float64(len(Dimensions))
	}
	return w
}

var defaultWeights = map[Role]Weights{
	RoleLeader:         {DimTimeline: 0.15, DimResources: 0.15, DimQuality: 0.2, DimRisk: 0.15, DimStrategy: 0.35},
	RoleProjectManager: {DimTimeline: 0.35, DimResources: 0.3, DimQuality: 0.1, DimRisk: 0.15, DimStrategy: 0.1},
	RoleArchitect:      {DimTimeline: 0.1, DimResources: 0.15, DimQuality: 0.35, DimRisk: 0.2, DimStrategy: 0.2},
	RoleEngineer:       {DimTimeline: 0.2, DimResources: 0.25, DimQuality: 0.3, DimRisk: 0.15, DimStrategy: 0.1},
	RoleDataAnalyst:    {DimTimeline: 0.1, DimResources: 0.2, DimQuality: 0.3, DimRisk: 0.25, DimStrategy: 0.15},
	RoleCritic:         {DimTimeline: 0.05, DimResources: 0.1, DimQuality: 0.4, DimRisk: 0.4, DimStrategy: 0.05},
	RoleResearcher:     {DimTimeline: 0.1, DimResources: 0.1, DimQuality: 0.3, DimRisk: 0.1, DimStrategy: 0.4},
	RoleFixer:          {DimTimeline: 0.35, DimResources: 0.2, DimQuality: 0.25, DimRisk: 0.15, DimStrategy: 0.05},
}

// Registry holds per-role weight tables. It is read-only after
// construction and safe for concurrent use without locking.
type Registry struct {
	weights map[Role]Weights
}

// NewRegistry builds a registry from the built-in tables, replacing the
// dimensions named in overrides. Overrides for a role replace only the
// dimensions they mention.
func NewRegistry(overrides map[Role]Weights) *Registry {
	tables := make(map[Role]Weights, len(defaultWeights))
	for r, w := range defaultWeights {
		tables[r] = w.clone()
	}
	for r, w := range overrides {
		base, ok := tables[r]
		if !ok {
			base = UniformWeights()
		}
		for d, v := range w {
			base[d] = v
		}
		tables[r] = base
	}
	return &Registry{weights: tables}
}

// WeightsFor returns a copy of the weights for role. Unknown roles, and
// roles whose table sums to zero, get UniformWeights.
func (r *Registry) WeightsFor(role Role) Weights {
	w, ok := r.weights[role]
	if !ok || w.Sum() <= 0 {
		return UniformWeights()
	}
	return w.clone()
}
