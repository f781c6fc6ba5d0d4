package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// IdempotencyStatus описывает жизненный цикл обработки доставки webhook.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing означает, что доставка принята и ещё обрабатывается.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone означает, что доставка обработана и повтор ничего не изменит.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed означает, что обработка завершилась ошибкой и повтор допустим.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with a different payload")
)

// IdempotencyRecord хранит состояние обработки одной доставки webhook.
type IdempotencyRecord struct {
	Key         string
	RequestHash string
	Outcome     string
	Status      IdempotencyStatus
	TTLAt       time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IsIdempotencyConflict сообщает, что ключ уже использовался.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

// WebhookDeliveryKey строит ключ доставки из заголовков подписи.
func WebhookDeliveryKey(timestamp, signature string) string {
	sum := sha256.Sum256([]byte(timestamp + "|" + signature))
	return "webhook:" + hex.EncodeToString(sum[:])
}

// PayloadHash возвращает sha256 тела запроса в hex.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
