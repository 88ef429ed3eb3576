// Package events publishes committed ledger transactions to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange       = "wallet.events"
	routingKeyPrefix      = "wallet.transaction."
	exchangeKindTopic     = "topic"
	contentTypeJSON       = "application/json"
	defaultPublishTimeout = 5 * time.Second
)

var errNilChannel = errors.New("amqp channel is nil")

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// TransactionEvent is the message body for a committed transaction.
type TransactionEvent struct {
	TransactionID  string               `json:"transaction_id"`
	AccountID      string               `json:"account_id"`
	Type           string               `json:"type"`
	Category       string               `json:"category"`
	Credits        int64                `json:"credits"`
	BalanceAfter   int64                `json:"balance_after"`
	Description    string               `json:"description"`
	Reference      string               `json:"reference,omitempty"`
	RelatedEntity  *RelatedEntityRecord `json:"related_entity,omitempty"`
	Metadata       json.RawMessage      `json:"metadata"`
	CreatedUnixUTC int64                `json:"created_unix_utc"`
}

// RelatedEntityRecord mirrors ledger.RelatedEntity on the wire.
type RelatedEntityRecord struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

// NewTransactionEvent converts a committed transaction into its message body.
func NewTransactionEvent(transaction ledger.Transaction) TransactionEvent {
	event := TransactionEvent{
		TransactionID:  transaction.TransactionID,
		AccountID:      transaction.AccountID,
		Type:           transaction.Type.String(),
		Category:       transaction.Category().String(),
		Credits:        transaction.Credits,
		BalanceAfter:   transaction.BalanceAfter,
		Description:    transaction.Description,
		Reference:      transaction.Reference,
		Metadata:       json.RawMessage(transaction.MetadataJSON),
		CreatedUnixUTC: transaction.CreatedUnixUTC,
	}
	if len(event.Metadata) == 0 {
		event.Metadata = json.RawMessage("{}")
	}
	if transaction.RelatedEntity != nil {
		event.RelatedEntity = &RelatedEntityRecord{Kind: transaction.RelatedEntity.Kind, ID: transaction.RelatedEntity.ID}
	}
	return event
}

// RoutingKey returns wallet.transaction.<category>.
func RoutingKey(transaction ledger.Transaction) string {
	return routingKeyPrefix + transaction.Category().String()
}

// Publisher implements ledger.TransactionListener over an AMQP topic exchange.
// Publish failures are logged; the ledger commit has already happened.
type Publisher struct {
	channel  Channel
	exchange string
	logger   *zap.Logger
	timeout  time.Duration
	closeFn  func() error
	mutex    sync.Mutex
}

// Dial connects to url, opens a channel and declares the exchange.
func Dial(url string, exchange string, logger *zap.Logger) (*Publisher, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	amqpChannel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	publisher, err := NewPublisher(amqpChannel, exchange, logger)
	if err != nil {
		_ = amqpChannel.Close()
		_ = connection.Close()
		return nil, err
	}
	publisher.closeFn = connection.Close
	return publisher, nil
}

// NewPublisher declares a durable topic exchange on channel.
func NewPublisher(channel Channel, exchange string, logger *zap.Logger) (*Publisher, error) {
	if channel == nil {
		return nil, errNilChannel
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = DefaultExchange
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := channel.ExchangeDeclare(exchange, exchangeKindTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp exchange declare %s: %w", exchange, err)
	}
	return &Publisher{channel: channel, exchange: exchange, logger: logger, timeout: defaultPublishTimeout}, nil
}

func (publisher *Publisher) TransactionCommitted(ctx context.Context, transaction ledger.Transaction) {
	if err := publisher.Publish(ctx, transaction); err != nil {
		publisher.logger.Warn("transaction event publish failed",
			zap.String("transaction_id", transaction.TransactionID),
			zap.String("account_id", transaction.AccountID),
			zap.Error(err),
		)
	}
}

// Publish sends one transaction event. The caller's cancellation is ignored
// so a finished request does not drop the event.
func (publisher *Publisher) Publish(ctx context.Context, transaction ledger.Transaction) error {
	body, err := json.Marshal(NewTransactionEvent(transaction))
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publisher.timeout)
	defer cancel()

	publisher.mutex.Lock()
	defer publisher.mutex.Unlock()
	return publisher.channel.PublishWithContext(publishCtx, publisher.exchange, RoutingKey(transaction), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    transaction.TransactionID,
		Timestamp:    time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
		Type:         transaction.Type.String(),
		Body:         body,
	})
}

// Close closes the channel and, when dialed, the connection.
func (publisher *Publisher) Close() error {
	channelErr := publisher.channel.Close()
	if publisher.closeFn == nil {
		return channelErr
	}
	return errors.Join(channelErr, publisher.closeFn())
}

// NopListener discards events. It is used when no broker is configured.
type NopListener struct{}

func (NopListener) TransactionCommitted(context.Context, ledger.Transaction) {}
