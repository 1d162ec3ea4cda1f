package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/yourusername/pdf-perfect/internal/jobs"
)

// AMQPPublisher は状態遷移を RabbitMQ の topic exchange に配信します。
// ルーティングキーは job.<state> です。
type AMQPPublisher struct {
	conn     *amqp.Connection // DialAMQP で開いた場合のみ
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
}

// DialAMQP は RabbitMQ に接続し、exchange を宣言した AMQPPublisher を返します。
func DialAMQP(url, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	pub, err := NewAMQPPublisher(conn, exchange, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	pub.conn = conn
	return pub, nil
}

// NewAMQPPublisher は既存の接続からチャンネルを開き、exchange を宣言します。
// 接続は呼び出し側が閉じてください。
func NewAMQPPublisher(conn *amqp.Connection, exchange string, log *zap.Logger) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AMQPPublisher{
		channel:  ch,
		exchange: exchange,
		log:      log.With(zap.String("component", "events.amqp")),
	}, nil
}

// Notify は Event を JSON で publish します。失敗はログに残すだけです。
func (p *AMQPPublisher) Notify(ctx context.Context, job *jobs.Job) {
	body, err := json.Marshal(FromJob(job))
	if err != nil {
		p.log.Warn("failed to encode event", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	ctx, cancel := publishContext(ctx)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(job.State),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fmt.Sprintf("%s:%s:%d:%d", job.ID, job.State, job.AttemptsMade, job.Progress),
			Timestamp:    job.UpdatedAt,
			Body:         body,
		},
	)
	if err != nil {
		p.log.Warn("failed to publish event", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// Close はチャンネルを閉じます。DialAMQP で作成した場合は接続も閉じます。
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	chErr := p.channel.Close()
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return chErr
}

// RoutingKey は状態に対応するルーティングキーです。
func RoutingKey(state jobs.State) string {
	return "job." + string(state)
}
