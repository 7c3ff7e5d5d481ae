package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"cloutopia/internal/model"
	"cloutopia/internal/platform/rabbitmq"
)

type ExchangeStore interface {
	SaveExchange(sessionUUID string, userID *uint, msg *model.ChatMessage) error
}

// HistorySettler is told when a session's pending exchange has been stored.
type HistorySettler interface {
	Settle(ctx context.Context, sessionID string) error
}

type disposition int

const (
	ack disposition = iota
	reject
	requeue
)

// RecordPersistWorker drains the chat record queue into MySQL.
type RecordPersistWorker struct {
	conn      *amqp.Connection
	store     ExchangeStore
	history   HistorySettler
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRecordPersistWorker(conn *amqp.Connection, store ExchangeStore, history HistorySettler, queueName string, logger *slog.Logger) *RecordPersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordPersistWorker{
		conn:      conn,
		store:     store,
		history:   history,
		queueName: queueName,
		logger:    logger.With("component", "record_persist_worker"),
	}
}

func (w *RecordPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				switch w.handle(workerCtx, d.Body, d.Redelivered) {
				case ack:
					_ = d.Ack(false)
				case requeue:
					_ = d.Nack(false, true)
				default:
					_ = d.Nack(false, false)
				}
			}
		}
	}()

	w.logger.Info("worker started", "queue", w.queueName)
	return nil
}

// handle persists one delivery body. A failed store is retried once
// through redelivery; undecodable payloads are dropped.
func (w *RecordPersistWorker) handle(ctx context.Context, body []byte, redelivered bool) disposition {
	var record model.ChatRecord
	if err := json.Unmarshal(body, &record); err != nil {
		w.logger.Error("decode chat record failed", "error", err)
		return reject
	}
	if strings.TrimSpace(record.SessionUUID) == "" || strings.TrimSpace(record.MessageUUID) == "" {
		w.logger.Error("chat record missing identifiers", "session_id", record.SessionUUID, "message_id", record.MessageUUID)
		return reject
	}

	if err := w.store.SaveExchange(record.SessionUUID, record.UserID, record.ChatMessage()); err != nil {
		w.logger.Error("persist chat record failed",
			"session_id", record.SessionUUID,
			"message_id", record.MessageUUID,
			"redelivered", redelivered,
			"error", err,
		)
		if redelivered {
			return reject
		}
		return requeue
	}

	if w.history != nil {
		if err := w.history.Settle(ctx, record.SessionUUID); err != nil {
			w.logger.Warn("settle history cache failed", "session_id", record.SessionUUID, "error", err)
		}
	}
	return ack
}

func (w *RecordPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
