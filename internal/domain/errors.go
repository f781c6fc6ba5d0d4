package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation — общая ошибка некорректного ввода.
	ErrValidation = errors.New("validation failed")
	// Ошибка пустого списка позиций бронирования.
	ErrLineItemsRequired = errors.New("booking must contain at least one line item")
	// Ошибка при некорректном количестве билетов (<= 0).
	ErrInvalidQuantity = errors.New("line item quantity must be greater than zero")
	// Ошибка ссылки на тип билета, которого нет у события.
	ErrUnknownTicketType = errors.New("unknown ticket type")
	// Ошибка отрицательной суммы бронирования.
	ErrAmountNegative = errors.New("total_amount must be non-negative")
	// Ошибка отсутствующего идентификатора события.
	ErrEventIDRequired = errors.New("event_id is required")
	// ErrInvalidPayload — тело webhook не разбирается или в нём нет order id.
	ErrInvalidPayload = errors.New("invalid gateway payload")
	// ErrBookingTerminal — бронирование уже в терминальном состоянии отказа.
	ErrBookingTerminal = errors.New("booking is in a terminal state")
	// ErrInvalidTransition — переход между состояниями запрещён.
	ErrInvalidTransition = errors.New("invalid booking state transition")

	// ErrEventNotFound возвращается, если событие не найдено.
	ErrEventNotFound = errors.New("event not found")
	// ErrBookingNotFound возвращается, если бронирование не найдено.
	ErrBookingNotFound = errors.New("booking not found")

	// ErrSoldOut — запрошенное количество превышает остаток.
	ErrSoldOut = errors.New("tickets sold out")
	// ErrVersionConflict сигнализирует о конкурентной записи того же документа.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyExists — запись с таким идентификатором уже существует.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransientStore — транзакция не прошла после всех повторов, можно повторить запрос.
	ErrTransientStore = errors.New("transient store contention")
	// ErrIndexUnavailable — вторичный индекс хранилища ещё не готов.
	ErrIndexUnavailable = errors.New("store index unavailable")

	// ErrGateway — таймаут или не-2xx ответ платёжного шлюза.
	ErrGateway = errors.New("payment gateway error")
	// ErrGatewayRejected — шлюз окончательно отказал в создании заказа.
	ErrGatewayRejected = fmt.Errorf("%w: order rejected", ErrGateway)
	// ErrAmountMismatch — сумма из шлюза не совпадает с суммой бронирования.
	ErrAmountMismatch = errors.New("gateway amount does not match booking total")

	// ErrSignature — подпись webhook отсутствует или неверна.
	ErrSignature = errors.New("invalid webhook signature")
	// ErrUnauthenticated — нет валидного bearer-токена.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden — вызывающий не владеет ресурсом.
	ErrForbidden = errors.New("forbidden")

	// ErrEmailAlreadySent — письмо подтверждения уже отправлено.
	ErrEmailAlreadySent = errors.New("confirmation email already sent")
	// ErrEmailLockHeld — другой процесс держит lock отправки письма.
	ErrEmailLockHeld = errors.New("confirmation email lock is held")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ErrorKind группирует ошибки по способу обработки вызывающей стороной.
type ErrorKind string

const (
	KindUnknown         ErrorKind = "unknown"
	KindValidation      ErrorKind = "validation"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindTransientStore  ErrorKind = "transient_store"
	KindExternalGateway ErrorKind = "external_gateway"
	KindSignature       ErrorKind = "signature"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
)

// Classify возвращает категорию ошибки.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrSignature):
		return KindSignature
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrEventNotFound), errors.Is(err, ErrBookingNotFound):
		return KindNotFound
	case errors.Is(err, ErrSoldOut), errors.Is(err, ErrVersionConflict), errors.Is(err, ErrAlreadyExists):
		return KindConflict
	case errors.Is(err, ErrTransientStore):
		return KindTransientStore
	case errors.Is(err, ErrGateway):
		return KindExternalGateway
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrLineItemsRequired),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrUnknownTicketType),
		errors.Is(err, ErrAmountNegative),
		errors.Is(err, ErrEventIDRequired),
		errors.Is(err, ErrInvalidPayload),
		errors.Is(err, ErrBookingTerminal),
		errors.Is(err, ErrAmountMismatch):
		return KindValidation
	default:
		return KindUnknown
	}
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsRetryable сообщает, имеет ли смысл повторить операцию позже.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindTransientStore, KindExternalGateway:
		return true
	default:
		return IsVersionConflict(err)
	}
}
