package outbox

// Event is the integration event envelope queued inside the booking
// transaction. The Kafka topic name equals EventType, so each event kind
// gets its own topic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}
