// Package worker adapts broker messages to the attempt executor.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"codeio/internal/common/mq"
	"codeio/internal/pmodel"
	appErr "codeio/pkg/errors"
	"codeio/pkg/utils/contextkey"
	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

// Executor judges one attempt.
type Executor interface {
	Execute(ctx context.Context, attempt pmodel.Attempt) (pmodel.ExecutionResult, error)
}

// Worker consumes attempt messages, invokes the executor and publishes
// verdicts. A message is acknowledged exactly when its verdict has been
// queued for publication; executor bugs are converted to synthesized
// run-time-error verdicts so an attempt never hangs.
type Worker struct {
	exec           Executor
	producer       mq.Producer
	resultExchange string
}

// New creates a worker publishing verdicts to resultExchange.
func New(exec Executor, producer mq.Producer, resultExchange string) *Worker {
	return &Worker{
		exec:           exec,
		producer:       producer,
		resultExchange: resultExchange,
	}
}

// HandleMessage processes one attempt message. Returning nil acknowledges
// the message; returning an error requeues it.
func (w *Worker) HandleMessage(ctx context.Context, msg *mq.Message) error {
	attempt, err := decodeAttempt(msg.Body)
	if err != nil {
		// Poison message: publish a synthesized verdict so the attempt does
		// not cycle through the queue forever.
		logger.Error(ctx, "malformed attempt message", zap.Error(err))
		return w.publish(ctx, synthesizeRuntimeError(attempt.ID))
	}

	ctx = context.WithValue(ctx, contextkey.AttemptID, attempt.ID)
	logger.Info(ctx, "attempt received",
		zap.String("language", string(attempt.Language)),
		zap.Int("tests", len(attempt.Tests)))

	result, err := w.execute(ctx, attempt)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-attempt: no verdict, let the broker redeliver.
			return appErr.Wrap(err, appErr.Timeout)
		}
		logger.Error(ctx, "executor failed, synthesizing verdict", zap.Error(err))
		result = synthesizeRuntimeError(attempt.ID)
	}

	return w.publish(ctx, result)
}

// execute invokes the executor, converting panics into a synthesized
// verdict.
func (w *Worker) execute(ctx context.Context, attempt pmodel.Attempt) (result pmodel.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "executor panicked", zap.Any("panic", r))
			result = synthesizeRuntimeError(attempt.ID)
			err = nil
		}
	}()
	return w.exec.Execute(ctx, attempt)
}

func (w *Worker) publish(ctx context.Context, result pmodel.ExecutionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return appErr.Wrapf(err, appErr.MQPublishFailed, "encode verdict failed")
	}
	if err := w.producer.Publish(ctx, w.resultExchange, &mq.Message{
		ID:        uuid.NewString(),
		Body:      payload,
		Timestamp: time.Now(),
	}); err != nil {
		return err
	}
	logger.Info(ctx, "verdict published",
		zap.Int64("attempt_id", result.ID), zap.String("status", string(result.Status)))
	return nil
}

func decodeAttempt(body []byte) (pmodel.Attempt, error) {
	var attempt pmodel.Attempt
	if err := json.Unmarshal(body, &attempt); err != nil {
		// Best effort to keep the id for the synthesized verdict.
		dec := json.NewDecoder(bytes.NewReader(body))
		if tok, _ := dec.Token(); tok == json.Delim('{') {
			for dec.More() {
				if key, _ := dec.Token(); key == "id" {
					_ = dec.Decode(&attempt.ID)
					break
				}
				if dec.Decode(new(json.RawMessage)) != nil {
					break
				}
			}
		}
		return attempt, appErr.Wrapf(err, appErr.AttemptMalformed, "decode attempt failed")
	}
	if !attempt.Language.Valid() {
		return attempt, appErr.Newf(appErr.LanguageNotSupported, "unsupported language: %s", attempt.Language)
	}
	if attempt.TimeLimitSeconds <= 0 || attempt.MemoryLimitMegabytes <= 0 {
		return attempt, appErr.ValidationError("limits", "must be positive")
	}
	return attempt, nil
}

func synthesizeRuntimeError(attemptID int64) pmodel.ExecutionResult {
	return pmodel.ExecutionResult{
		ID:     attemptID,
		Status: pmodel.StatusRuntimeError,
	}
}
