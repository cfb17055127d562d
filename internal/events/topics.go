package events

// TopicOrderUpdate is emitted after an order changes status. The realtime
// channel forwards it to clients under the same name.
const TopicOrderUpdate = "order_update"

// OrderUpdate is the payload of TopicOrderUpdate.
type OrderUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	PassID  int64  `json:"pass_id"`
}
