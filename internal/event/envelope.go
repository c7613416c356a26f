package event

// EventType discriminator for settlement event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeMinted
	EventTypeRedeemed
	EventTypePositionOpened
	EventTypeMarginAdded
	EventTypeMarginRemoved
	EventTypePositionClosed
	EventTypePositionLiquidated
	EventTypeThresholdsUpdated
	EventTypeDevModeSet
	EventTypePaused
	EventTypeUnpaused
	EventTypePriceUpdate
)

func (et EventType) String() string {
	switch et {
	case EventTypeMinted:
		return "Minted"
	case EventTypeRedeemed:
		return "Redeemed"
	case EventTypePositionOpened:
		return "PositionOpened"
	case EventTypeMarginAdded:
		return "MarginAdded"
	case EventTypeMarginRemoved:
		return "MarginRemoved"
	case EventTypePositionClosed:
		return "PositionClosed"
	case EventTypePositionLiquidated:
		return "PositionLiquidated"
	case EventTypeThresholdsUpdated:
		return "ThresholdsUpdated"
	case EventTypeDevModeSet:
		return "DevModeSet"
	case EventTypePaused:
		return "Paused"
	case EventTypeUnpaused:
		return "Unpaused"
	case EventTypePriceUpdate:
		return "PriceUpdate"
	default:
		return "Unknown"
	}
}

// Envelope wraps every committed settlement record in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64 `json:"sequence"`

	// Event type discriminator
	EventType EventType `json:"event_type"`

	// Logical tick at which the operation settled
	Tick int64 `json:"tick"`

	// Reference rate used by the operation (0 for admin events)
	Price int64 `json:"price"`

	// JSON-encoded event-specific payload
	Payload []byte `json:"payload"`

	// SHA-256 of engine state AFTER applying this record
	StateHash [32]byte `json:"state_hash"`

	// Previous record's state hash (chain integrity)
	PrevHash [32]byte `json:"prev_hash"`
}
