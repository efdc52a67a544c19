package events

import "context"

// Deal events consumed by the external UI/notification layer. Each payload
// carries the deal identity plus whatever context a message needs.
const (
	EventDealCreated         = "deal.created"
	EventDealLocked          = "deal.locked"
	EventDealDeadlineWarning = "deal.deadline_warning"
	EventPayoutAuthRequested = "deal.payout_authorization_requested"
	EventDealCompleted       = "deal.completed"
	EventDealPayoutFailed    = "deal.payout_failed"
	EventDealDisputeOpened   = "deal.dispute_opened"
	EventDealExpired         = "deal.expired"
	EventDealStatusChanged   = "deal.status_changed"
)

// StreamDeals is the pub/sub channel all deal events go to.
const StreamDeals = "events:deal"

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
