package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/wellhead-erp/wellhead/internal/workflow"
)

// Channel is the subset of *amqp.Channel used for publishing.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// TransitionMessage is the payload published for each committed transition.
type TransitionMessage struct {
	RefID   string         `json:"ref_id"`
	DocType string         `json:"doc_type"`
	DocID   int64          `json:"doc_id"`
	Number  string         `json:"number,omitempty"`
	Action  string         `json:"action"`
	From    string         `json:"from"`
	To      string         `json:"to"`
	ActorID int64          `json:"actor_id"`
	Reason  string         `json:"reason,omitempty"`
	Note    string         `json:"note"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher fans committed transitions out to a topic exchange.
type Publisher struct {
	channel  Channel
	exchange string
	printer  *message.Printer
	logger   *slog.Logger
}

// NewPublisher constructs a Publisher. Notes are formatted for tag.
func NewPublisher(channel Channel, exchange string, tag language.Tag, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{channel: channel, exchange: exchange, printer: message.NewPrinter(tag), logger: logger}
}

// Notify implements workflow.Notifier.
func (p *Publisher) Notify(ctx context.Context, step workflow.Step) error {
	if p == nil || p.channel == nil {
		return errors.New("audit: publisher not initialised")
	}
	msg := TransitionMessage{
		RefID:   RefID(step.DocType, step.DocID).String(),
		DocType: string(step.DocType),
		DocID:   step.DocID,
		Number:  step.Number,
		Action:  string(step.Action),
		From:    string(step.From),
		To:      string(step.To),
		ActorID: step.ActorID,
		Reason:  step.Reason,
		Note:    p.Note(step),
		Meta:    step.Meta,
		At:      step.At,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(step), false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    step.At,
		MessageId:    fmt.Sprintf("%s:%s:%d", msg.RefID, step.Action, step.At.UnixNano()),
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("audit: publish %s: %w", RoutingKey(step), err)
	}
	p.logger.Debug("transition published", slog.String("routing_key", RoutingKey(step)), slog.Int64("doc_id", step.DocID))
	return nil
}

// RoutingKey is <doc_type>.<action> in lower case.
func RoutingKey(step workflow.Step) string {
	return strings.ToLower(string(step.DocType) + "." + string(step.Action))
}

// Note renders a one-line human summary of step.
func (p *Publisher) Note(step workflow.Step) string {
	return FormatNote(p.printer, step)
}

// FormatNote renders a one-line summary with localized amounts.
func FormatNote(printer *message.Printer, step workflow.Step) string {
	if printer == nil {
		printer = message.NewPrinter(language.English)
	}
	ref := step.Number
	if ref == "" {
		ref = fmt.Sprintf("#%d", step.DocID)
	}
	actor := "system"
	if step.ActorID != 0 {
		actor = fmt.Sprintf("actor %d", step.ActorID)
	}
	note := fmt.Sprintf("%s %s: %s -> %s by %s", step.DocType, ref, step.From, step.To, actor)
	if amount, ok := metaAmount(step.Meta); ok {
		f, _ := amount.Float64()
		note += printer.Sprintf(", amount %.2f", f)
		if currency, ok := step.Meta["currency"].(string); ok && currency != "" {
			note += " " + currency
		}
	}
	if step.Reason != "" {
		note += fmt.Sprintf(" (%s)", step.Reason)
	}
	return note
}

func metaAmount(meta map[string]any) (decimal.Decimal, bool) {
	raw, ok := meta["amount"]
	if !ok {
		return decimal.Decimal{}, false
	}
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, true
	case string:
		d, err := decimal.NewFromString(v)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	}
	return decimal.Decimal{}, false
}
