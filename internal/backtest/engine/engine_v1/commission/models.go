package commission

// Zero implements Model with zero commission.
type Zero struct{}

// NewZero creates a zero commission model.
func NewZero() Model {
	return &Zero{}
}

// Calculate returns 0 for any fill.
func (c *Zero) Calculate(quantity float64, price float64) float64 {
	return 0.0
}

// InteractiveBroker charges per share with a one dollar minimum.
type InteractiveBroker struct{}

func NewInteractiveBroker() Model {
	return &InteractiveBroker{}
}

func (c *InteractiveBroker) Calculate(quantity float64, price float64) float64 {
	fee := 0.005 * quantity
	if fee < 1.0 {
		return 1.0
	}

	return fee
}

const defaultPercentageRate = 0.001

// Percentage charges a flat fraction of the fill notional.
type Percentage struct {
	rate float64
}

func NewPercentage(rate float64) Model {
	return &Percentage{rate: rate}
}

func (c *Percentage) Calculate(quantity float64, price float64) float64 {
	return quantity * price * c.rate
}
