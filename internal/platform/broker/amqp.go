// Package broker connects to the RabbitMQ exchange carrying workflow events.
package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Conn owns an AMQP connection and the channel used for publishing.
type Conn struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

// Dial connects and declares exchange as a durable topic exchange.
func Dial(url, exchange string) (*Conn, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("platform/broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("platform/broker: channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("platform/broker: declare exchange %s: %w", exchange, err)
	}
	return &Conn{conn: conn, Channel: ch}, nil
}

// Close releases the channel and connection.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
