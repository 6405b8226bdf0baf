package models

const DateLayout = "2006-01-02"

const (
	MorningStart = "09:00"
	MorningEnd   = "15:00"
	EveningStart = "15:00"
	EveningEnd   = "21:00"
)

const (
	// DefaultDraftTTL время жизни черновика бронирования
	DefaultDraftTTL = 30 * 60 // 30 минут в секундах

	// DefaultMaxBookingDays горизонт бронирования
	DefaultMaxBookingDays = 365

	// MonthlyMaxSpanDays максимальный разброс дат для помесячной аренды
	MonthlyMaxSpanDays = 31

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 128

	// DefaultSweepInterval период сверки зависших платежей, секунды
	DefaultSweepInterval = 5 * 60

	// DefaultStaleAfter возраст pending-брони до сверки с провайдером, секунды
	DefaultStaleAfter = 15 * 60

	// DefaultProviderTimeout таймаут вызовов платежного провайдера, секунды
	DefaultProviderTimeout = 10
)

const (
	MetaBookingIDs      = "booking_ids"
	MetaUserID          = "user_id"
	MetaIncludesDeposit = "includes_deposit"
	MetaDraftID         = "draft_id"
)
