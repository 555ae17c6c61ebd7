package queue

import (
	"encoding/json"
	"fmt"
)

// ActionStartTraining is the only action the training queue carries.
const ActionStartTraining = "start_training"

// Message is the payload of a training-queue delivery.
type Message struct {
	JobID  string `json:"jobId"`
	Action string `json:"action"`
}

// ParseMessage decodes and validates a queue payload. A payload that does
// not decode, or whose shape is wrong, is a poison message: the caller must
// acknowledge and drop it, never retry it.
func ParseMessage(body []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	if msg.JobID == "" || msg.Action != ActionStartTraining {
		return nil, fmt.Errorf("unexpected payload shape: jobId=%q action=%q", msg.JobID, msg.Action)
	}
	return &msg, nil
}

// Delivery is one message received from the queue. Ack removes it; Requeue
// returns it to the broker for redelivery.
type Delivery interface {
	Body() []byte
	Ack() error
	Requeue() error
}

// Handler processes deliveries pulled by a Consumer.
type Handler interface {
	HandleDelivery(d Delivery)
}
