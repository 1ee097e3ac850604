package market

import (
	"context"
)

// Handler 处理来自消息队列的单个机会。
type Handler func(ctx context.Context, opp Opportunity) error

// Producer 负责向队列投递机会。
type Producer interface {
	Publish(ctx context.Context, opp Opportunity) error
	Close() error
}

// Consumer 负责从队列中消费机会。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
