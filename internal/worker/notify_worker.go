package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"clinicrooms/internal/domain"
	"clinicrooms/internal/events"
	"clinicrooms/internal/logging"
	"clinicrooms/internal/metrics"
	"clinicrooms/internal/models"
	"clinicrooms/internal/notify"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// fallbackDelay is how long a freshly enqueued task stays invisible to the
// database poll. The fast path (redis or the local channel) owns it until then.
const fallbackDelay = time.Minute

var errPermanent = errors.New("permanent notification failure")

// notifyPayload is the union of the booking and user-verified event payloads.
type notifyPayload struct {
	BookingIDs      []string `json:"booking_ids"`
	UserID          string   `json:"user_id"`
	PaymentIntentID string   `json:"payment_intent_id"`
	AmountCents     int64    `json:"amount_cents"`
	Currency        string   `json:"currency"`
	FailureMessage  string   `json:"failure_message"`
}

// NotifyWorkerOptions tunes the worker. Zero values fall back to defaults.
type NotifyWorkerOptions struct {
	Retry        RetryPolicy
	PollInterval time.Duration
	BatchSize    int
	AdminEmail   string
}

// NotifyWorker delivers user notifications queued from domain events.
type NotifyWorker struct {
	queue         domain.NotificationQueue
	users         domain.UserStore
	sender        domain.NotificationSender
	redis         *redis.Client
	retryPolicy   RetryPolicy
	local         chan models.NotifyTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	adminEmail    string
	now           func() time.Time
	logger        zerolog.Logger
}

func NewNotifyWorker(
	queue domain.NotificationQueue,
	users domain.UserStore,
	sender domain.NotificationSender,
	redisClient *redis.Client,
	opts NotifyWorkerOptions,
	logger *zerolog.Logger,
) *NotifyWorker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	return &NotifyWorker{
		queue:         queue,
		users:         users,
		sender:        sender,
		redis:         redisClient,
		retryPolicy:   opts.Retry.withDefaults(),
		local:         make(chan models.NotifyTask, 128),
		redisQueueKey: "notify:queue",
		deadLetterKey: "notify:deadletter",
		pollInterval:  opts.PollInterval,
		batchSize:     opts.BatchSize,
		adminEmail:    opts.AdminEmail,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logging.Component(logger, "notify_worker"),
	}
}

// Subscribe queues a notification for every booking and verification event.
func (w *NotifyWorker) Subscribe(bus *events.EventBus) {
	for _, kind := range []string{
		events.EventBookingConfirmed,
		events.EventBookingFailed,
		events.EventBookingCancelled,
		events.EventUserVerified,
	} {
		bus.Subscribe(kind, func(ev *events.Event) error {
			return w.Enqueue(context.Background(), ev.Type, ev.Payload)
		})
	}
}

// Enqueue persists the task and hands it to redis or the in-memory queue.
func (w *NotifyWorker) Enqueue(ctx context.Context, kind string, payload []byte) error {
	if kind == "" {
		return errors.New("task type is required")
	}
	var p notifyPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if p.UserID == "" {
		return errors.New("user id is required")
	}

	next := w.now().Add(fallbackDelay)
	task := models.NotifyTask{
		TaskType:    kind,
		Payload:     string(payload),
		Status:      models.TaskStatusPending,
		CreatedAt:   w.now(),
		NextRetryAt: &next,
	}
	if len(p.BookingIDs) > 0 {
		task.BookingID = p.BookingIDs[0]
	}

	if err := w.queue.EnqueueNotification(ctx, &task); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Redis push failed, falling back to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.local <- task:
	default:
		w.logger.Warn().Str("task_id", task.ID).Msg("Memory queue full, task left to polling")
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotifyWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.queue.GetPendingNotifications(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("Fetch pending notifications failed")
			w.sleep(ctx)
			continue
		}
		if len(tasks) == 0 {
			w.sleep(ctx)
			continue
		}
		for _, t := range tasks {
			w.processTask(ctx, t)
		}
	}
}

func (w *NotifyWorker) sleep(ctx context.Context) {
	t := time.NewTimer(w.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *NotifyWorker) tryLocalQueue() (models.NotifyTask, bool) {
	select {
	case t := <-w.local:
		return t, true
	default:
		return models.NotifyTask{}, false
	}
}

func (w *NotifyWorker) tryRedis(ctx context.Context) (models.NotifyTask, bool) {
	if w.redis == nil {
		return models.NotifyTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, redis.Nil) {
			w.logger.Error().Err(err).Msg("Redis BRPOP failed")
		}
		return models.NotifyTask{}, false
	}
	if len(res) != 2 {
		return models.NotifyTask{}, false
	}
	var task models.NotifyTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("Decode redis task failed")
		return models.NotifyTask{}, false
	}
	return task, true
}

func (w *NotifyWorker) processTask(ctx context.Context, task *models.NotifyTask) {
	log := w.logger.With().Str("task_id", task.ID).Str("task_type", task.TaskType).Logger()

	err := w.deliver(ctx, task)
	switch {
	case err == nil:
		if err := w.queue.UpdateNotificationStatus(ctx, task.ID, models.TaskStatusCompleted, "", nil); err != nil {
			log.Error().Err(err).Msg("Mark completed failed")
		}
		metrics.IncNotification("sent")
		log.Debug().Msg("Notification sent")
	case errors.Is(err, errPermanent):
		log.Warn().Err(err).Msg("Notification dropped")
		w.failTask(ctx, task, err)
	default:
		w.retryOrFail(ctx, task, err)
	}
}

func (w *NotifyWorker) deliver(ctx context.Context, task *models.NotifyTask) error {
	var p notifyPayload
	if err := json.Unmarshal([]byte(task.Payload), &p); err != nil {
		return fmt.Errorf("%w: decode payload: %v", errPermanent, err)
	}

	user, err := w.users.GetUser(ctx, p.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: user %s not found", errPermanent, p.UserID)
	}
	if err != nil {
		return err
	}
	if user.Email == "" {
		return fmt.Errorf("%w: user %s has no email", errPermanent, p.UserID)
	}

	subject, body, err := notify.Render(task.TaskType, notify.MessageData{
		UserName:        user.Name,
		BookingIDs:      p.BookingIDs,
		PaymentIntentID: p.PaymentIntentID,
		AmountCents:     p.AmountCents,
		Currency:        p.Currency,
		FailureMessage:  p.FailureMessage,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	if err := w.sender.Send(ctx, user.Email, subject, body); err != nil {
		return err
	}

	if w.adminEmail != "" && task.TaskType != notify.KindUserVerified {
		// Best effort; the user copy already went out.
		if err := w.sender.Send(ctx, w.adminEmail, "[admin] "+subject, body); err != nil {
			w.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Admin copy failed")
		}
	}
	return nil
}

func (w *NotifyWorker) retryOrFail(ctx context.Context, task *models.NotifyTask, cause error) {
	attempt := task.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.queue.UpdateNotificationStatus(ctx, task.ID, models.TaskStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Mark retry failed")
	}
	metrics.IncNotification("retry")
	w.logger.Warn().Err(cause).Str("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("Notification will be retried")
}

func (w *NotifyWorker) failTask(ctx context.Context, task *models.NotifyTask, cause error) {
	if err := w.queue.UpdateNotificationStatus(ctx, task.ID, models.TaskStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Mark failed failed")
	}
	metrics.IncNotification("failed")
	w.pushDeadLetter(ctx, task)
}

func (w *NotifyWorker) pushRedis(ctx context.Context, task models.NotifyTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *NotifyWorker) pushDeadLetter(ctx context.Context, task *models.NotifyTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Encode dead letter failed")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Str("task_id", task.ID).Msg("Dead letter push failed")
	}
}
