package types

// SignalEvent is a single strategy-declared event produced by the signal
// computation bridge, tagged with the bar it belongs to. The Name field
// carries the originating signal's logical name; rule matching is driven by
// that data, never by a hardcoded signal identity.
type SignalEvent struct {
	// BarIndex is the index into the run's candle series this event fires on.
	BarIndex int `yaml:"bar_index" json:"bar_index" validate:"gte=0"`
	// Name is the strategy-declared logical name of the signal, e.g. "ma_crossover".
	Name string `yaml:"name" json:"name" validate:"required"`
	// Type is the strategy-declared event kind, e.g. "golden_cross".
	Type string `yaml:"type" json:"type"`
	// Strength is the magnitude of the signal. Boolean signals report 1 for true.
	Strength float64 `yaml:"strength" json:"strength"`
	// RawOutputs holds named auxiliary values emitted alongside the event.
	RawOutputs map[string]float64 `yaml:"raw_outputs" json:"raw_outputs"`
}

// Triggered reports whether the event fires as a trigger. Boolean and
// magnitude-valued signals are treated uniformly: any non-zero strength
// triggers.
func (e SignalEvent) Triggered() bool {
	return e.Strength != 0
}
