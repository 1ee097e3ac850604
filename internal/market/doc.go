// Package market models the opportunities the agent may act on and the
// channels they arrive through. An opportunity is an immutable candidate
// action with a cost and a confidence score; sources provide finite,
// restartable batches, and the queue implementations (memory, Redis,
// RabbitMQ) carry opportunities from external detectors into the controller.
package market
