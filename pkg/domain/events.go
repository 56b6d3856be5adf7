package domain

// EventKind names an emitted event.
type EventKind string

// Events emitted by successful transitions.
const (
	EventCreated     EventKind = "created"
	EventTransferred EventKind = "transferred"
	EventAsk         EventKind = "ask"
	EventSold        EventKind = "sold"
)

// Event is a notification emitted after a transition commits. Which fields are
// set depends on Kind:
//
//	created     Owner, Kitty
//	transferred From, To, Kitty
//	ask         Owner, Kitty, Price (nil when delisted)
//	sold        From, To, Kitty, Price
type Event struct {
	ID    string      `json:"id"`
	Kind  EventKind   `json:"kind"`
	Block BlockNumber `json:"block"`
	Owner AccountID   `json:"owner,omitempty"`
	From  AccountID   `json:"from,omitempty"`
	To    AccountID   `json:"to,omitempty"`
	Kitty KittyIndex  `json:"kitty"`
	Price *Balance    `json:"price,omitempty"`
}

// CreatedEvent reports a newly minted kitty.
func CreatedEvent(owner AccountID, id KittyIndex) Event {
	return Event{Kind: EventCreated, Owner: owner, Kitty: id}
}

// TransferredEvent reports an ownership change outside a sale.
func TransferredEvent(from, to AccountID, id KittyIndex) Event {
	return Event{Kind: EventTransferred, From: from, To: to, Kitty: id}
}

// AskEvent reports a listing change.
func AskEvent(owner AccountID, id KittyIndex, price *Balance) Event {
	return Event{Kind: EventAsk, Owner: owner, Kitty: id, Price: price}
}

// SoldEvent reports a completed sale at the listed price.
func SoldEvent(from, to AccountID, id KittyIndex, price Balance) Event {
	return Event{Kind: EventSold, From: from, To: to, Kitty: id, Price: &price}
}
