package commission

// Model calculates the commission fee in USD for one fill.
type Model interface {
	// Calculate returns the fee for filling quantity units at the given price.
	Calculate(quantity float64, price float64) float64
}

type Broker string

const (
	BrokerInteractiveBroker Broker = "interactive_broker"
	BrokerPercentage        Broker = "percentage"
	BrokerZero              Broker = "zero_commission"
)

var AllBrokers = []any{
	BrokerInteractiveBroker,
	BrokerPercentage,
	BrokerZero,
}

// ForBroker returns the commission model for the configured broker.
// Unknown brokers fall back to zero commission.
func ForBroker(broker Broker) Model {
	switch broker {
	case BrokerInteractiveBroker:
		return NewInteractiveBroker()
	case BrokerPercentage:
		return NewPercentage(defaultPercentageRate)
	case BrokerZero:
		return NewZero()
	default:
		return NewZero()
	}
}
