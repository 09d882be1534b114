package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/store"
)

// PendingAccountRepo encapsulates access to pending_accounts.
type PendingAccountRepo struct {
	st store.Store
}

// NewPendingAccountRepo constructs a PendingAccountRepo given a store handle.
func NewPendingAccountRepo(st store.Store) *PendingAccountRepo {
	return &PendingAccountRepo{st: st}
}

// List returns accounts ordered by id. A nil status returns every account.
func (r *PendingAccountRepo) List(ctx context.Context, status *model.AccountStatus) ([]model.PendingAccount, error) {
	f := store.Filter{OrderBy: "id"}
	if status != nil {
		f.Eq = map[string]any{"status": string(*status)}
	}
	rows, err := r.st.Select(ctx, store.TablePendingAccounts, f)
	if err != nil {
		return nil, storeErr("list pending accounts", err)
	}
	return decodeAll(rows, DecodePendingAccount)
}

// Get returns one account by id.
func (r *PendingAccountRepo) Get(ctx context.Context, id uint64) (*model.PendingAccount, error) {
	row, err := getByID(ctx, r.st, store.TablePendingAccounts, id)
	if err != nil {
		return nil, err
	}
	a, err := DecodePendingAccount(row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert records a new account request. The status is always pending.
func (r *PendingAccountRepo) Insert(ctx context.Context, a *model.PendingAccount) error {
	a.Name = strings.TrimSpace(a.Name)
	a.Email = strings.TrimSpace(a.Email)
	a.AssignedID = strings.TrimSpace(a.AssignedID)
	a.Status = model.AccountPending
	if err := validateStruct(a); err != nil {
		return err
	}
	ts := now()
	id, err := r.st.Insert(ctx, store.TablePendingAccounts, store.Row{
		"name":        a.Name,
		"email":       a.Email,
		"assigned_id": a.AssignedID,
		"status":      string(model.AccountPending),
		"created_at":  ts,
		"updated_at":  ts,
	})
	if err != nil {
		return storeErr("insert pending account", err)
	}
	fresh, err := r.Get(ctx, id)
	if err != nil {
		a.ID = id
		return readBack(store.TablePendingAccounts, id, err)
	}
	*a = *fresh
	return nil
}

// UpdateStatus moves an account from one status to another with a
// compare-and-set on the current status. It returns ErrNotFound for an
// unknown id and ErrStatusMismatch when the account is no longer in from.
func (r *PendingAccountRepo) UpdateStatus(ctx context.Context, id uint64, from, to model.AccountStatus) error {
	err := r.st.Update(ctx, store.TablePendingAccounts, id,
		store.Row{"status": string(to), "updated_at": now()},
		store.Row{"status": string(from)},
	)
	if errors.Is(err, store.ErrConditionFailed) {
		return ErrStatusMismatch
	}
	return storeErr("update account status", err)
}
