// queue.go -- asynchronous delivery through a Redis list.
//
// Reset-request handlers must answer in constant time whether or not a mail
// goes out, so QueuedMailer pushes a job and returns; a single worker
// goroutine pops jobs and drives the wrapped sender.
package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// QueueKey is the Redis list holding pending mail jobs.
const QueueKey = "contacts:mail:queue"

// DefaultMaxQueueSize bounds the list so an unreachable SMTP server cannot
// grow it without limit. Zero disables the bound.
const DefaultMaxQueueSize int64 = 1000

// ErrQueueFull is returned when a job is rejected at the size bound.
var ErrQueueFull = errors.New("mail queue full")

const jobPasswordReset = "password_reset"

// popTimeout is how long the worker blocks on an empty queue before
// rechecking its context.
const popTimeout = 2 * time.Second

// EmailJob is the queued payload. ExpiresIn travels as int64 nanoseconds and
// is restored to a time.Duration on the worker side.
type EmailJob struct {
	Type      string            `json:"type"`
	ToEmail   string            `json:"to_email"`
	Token     string            `json:"token"`
	ExpiresIn int64             `json:"expires_in"`
	Vars      map[string]string `json:"vars"`
}

// QueuedMailer satisfies Mailer by enqueueing. Callers cannot tell it apart
// from a synchronous sender.
type QueuedMailer struct {
	inner Mailer
	rdb   *redis.Client
	cap   int64
}

// NewQueuedMailer wraps sender with the Redis queue. cap limits the queue
// length; pass DefaultMaxQueueSize unless there is a reason not to.
func NewQueuedMailer(sender Mailer, rdb *redis.Client, cap int64) *QueuedMailer {
	return &QueuedMailer{inner: sender, rdb: rdb, cap: cap}
}

// pushScript performs the length check and the push in one round trip so two
// concurrent producers cannot both squeeze past the bound.
// KEYS[1] queue, ARGV[1] cap (0 skips the check), ARGV[2] payload.
var pushScript = redis.NewScript(`
local cap = tonumber(ARGV[1])
if cap > 0 and redis.call('LLEN', KEYS[1]) >= cap then
	return 0
end
redis.call('RPUSH', KEYS[1], ARGV[2])
return 1
`)

// SendPasswordReset queues a password reset mail for the worker.
func (q *QueuedMailer) SendPasswordReset(ctx context.Context, toEmail, token string, expiresIn time.Duration, vars map[string]string) error {
	payload, err := json.Marshal(EmailJob{
		Type:      jobPasswordReset,
		ToEmail:   toEmail,
		Token:     token,
		ExpiresIn: int64(expiresIn),
		Vars:      vars,
	})
	if err != nil {
		return fmt.Errorf("marshaling email job: %w", err)
	}

	pushed, err := pushScript.Run(ctx, q.rdb, []string{QueueKey}, q.cap, payload).Int64()
	if err != nil {
		return fmt.Errorf("enqueuing email job: %w", err)
	}
	if pushed == 0 {
		return ErrQueueFull
	}
	return nil
}

// StartWorker pops and dispatches jobs until ctx is cancelled. Run it in its
// own goroutine.
func (q *QueuedMailer) StartWorker(ctx context.Context) {
	for {
		res, err := q.rdb.BLPop(ctx, popTimeout, QueueKey).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				// empty queue, go around again
				continue
			}
			slog.Error("mail worker: pop failed", "error", err)
			continue
		}

		// res is [key, payload]
		var job EmailJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			slog.Error("mail worker: undecodable job", "error", err)
			continue
		}
		q.dispatch(ctx, job)
	}
}

// dispatch routes one job to the wrapped sender. Send failures are logged
// and the job is dropped; there is no retry.
func (q *QueuedMailer) dispatch(ctx context.Context, job EmailJob) {
	switch job.Type {
	case jobPasswordReset:
		err := q.inner.SendPasswordReset(ctx, job.ToEmail, job.Token, time.Duration(job.ExpiresIn), job.Vars)
		if err != nil {
			slog.Error("mail worker: send failed", "type", job.Type, "to", job.ToEmail, "error", err)
		}
	default:
		slog.Error("mail worker: unknown job type", "type", job.Type)
	}
}
