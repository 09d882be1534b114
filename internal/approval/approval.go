// Package approval moves seva staff account requests out of the pending
// state. Each account is decided exactly once.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/temple-portals/internal/config"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
)

// Action is a reviewer decision.
type Action string

const (
	Approve Action = "approve"
	Reject  Action = "reject"
)

// ErrInvalidTransition is returned when the account is not pending or the
// action is unknown. The stored status is left unchanged.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrInProgress is returned when another reviewer holds the account's lock.
var ErrInProgress = errors.New("approval in progress")

// Transition returns the status that follows action from status.
func Transition(status model.AccountStatus, action Action) (model.AccountStatus, error) {
	if status != model.AccountPending {
		return status, fmt.Errorf("%w: account is %s", ErrInvalidTransition, status)
	}
	switch action {
	case Approve:
		return model.AccountApproved, nil
	case Reject:
		return model.AccountRejected, nil
	}
	return status, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
}

// Workflow applies reviewer decisions to the pending_accounts table.
type Workflow struct {
	repo    *repository.PendingAccountRepo
	locker  *redislock.Client
	lockTTL time.Duration
	logger  *logrus.Logger
}

// New returns a Workflow. locker may be nil; the status compare-and-set
// alone still guarantees a single decision per account.
func New(repo *repository.PendingAccountRepo, locker *redislock.Client, lockTTL time.Duration, logger *logrus.Logger) *Workflow {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Workflow{repo: repo, locker: locker, lockTTL: lockTTL, logger: logger}
}

// Approve moves a pending account to approved.
func (w *Workflow) Approve(ctx context.Context, id uint64) (*model.PendingAccount, error) {
	return w.decide(ctx, id, Approve)
}

// Reject moves a pending account to rejected.
func (w *Workflow) Reject(ctx context.Context, id uint64) (*model.PendingAccount, error) {
	return w.decide(ctx, id, Reject)
}

// Pending lists the accounts still awaiting review, ordered by id.
func (w *Workflow) Pending(ctx context.Context) ([]model.PendingAccount, error) {
	status := model.AccountPending
	return w.repo.List(ctx, &status)
}

func (w *Workflow) decide(ctx context.Context, id uint64, action Action) (*model.PendingAccount, error) {
	if w.locker != nil {
		lock, err := w.locker.Obtain(ctx, fmt.Sprintf("approval:%d", id), w.lockTTL, nil)
		if err == redislock.ErrNotObtained {
			return nil, ErrInProgress
		} else if err != nil {
			// Redis trouble must not block reviews.
			config.LogError(w.logger, "approval", "decide", "error obtaining lock; proceeding without it", id, err)
		} else {
			defer func() { _ = lock.Release(context.Background()) }()
		}
	}

	acc, err := w.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := Transition(acc.Status, action)
	if err != nil {
		return nil, err
	}
	err = w.repo.UpdateStatus(ctx, id, model.AccountPending, next)
	if errors.Is(err, repository.ErrStatusMismatch) {
		return nil, fmt.Errorf("%w: account was decided concurrently", ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}
	acc.Status = next
	w.logger.WithFields(logrus.Fields{
		"component":   "approval",
		"account_id":  id,
		"assigned_id": acc.AssignedID,
		"status":      string(next),
	}).Info("account decided")
	return acc, nil
}
