package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/iliyamo/temple-portals/internal/approval"
	"github.com/iliyamo/temple-portals/internal/changefeed"
	"github.com/iliyamo/temple-portals/internal/model"
	"github.com/iliyamo/temple-portals/internal/repository"
	"github.com/iliyamo/temple-portals/internal/store/memstore"
	"github.com/iliyamo/temple-portals/internal/syncengine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func seedAccounts(t *testing.T, repo *repository.PendingAccountRepo, names ...string) []uint64 {
	t.Helper()
	ids := make([]uint64, 0, len(names))
	for i, name := range names {
		a := model.PendingAccount{
			Name:       name,
			Email:      name + "@temple.org",
			AssignedID: "SEVA00" + string(rune('1'+i)),
		}
		require.NoError(t, repo.Insert(context.Background(), &a))
		ids = append(ids, a.ID)
	}
	return ids
}

func TestTransition(t *testing.T) {
	cases := []struct {
		from   model.AccountStatus
		action approval.Action
		want   model.AccountStatus
		ok     bool
	}{
		{model.AccountPending, approval.Approve, model.AccountApproved, true},
		{model.AccountPending, approval.Reject, model.AccountRejected, true},
		{model.AccountPending, approval.Action("escalate"), model.AccountPending, false},
		{model.AccountApproved, approval.Approve, model.AccountApproved, false},
		{model.AccountApproved, approval.Reject, model.AccountApproved, false},
		{model.AccountRejected, approval.Approve, model.AccountRejected, false},
	}
	for _, tc := range cases {
		got, err := approval.Transition(tc.from, tc.action)
		if tc.ok {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, approval.ErrInvalidTransition)
		}
		assert.Equal(t, tc.want, got, "%s + %s", tc.from, tc.action)
	}
}

func TestDoubleApproveFails(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewPendingAccountRepo(memstore.New())
	w := approval.New(repo, nil, 0, quietLogger())
	ids := seedAccounts(t, repo, "Ravi")

	acc, err := w.Approve(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.AccountApproved, acc.Status)

	_, err = w.Approve(ctx, ids[0])
	require.ErrorIs(t, err, approval.ErrInvalidTransition)
	_, err = w.Reject(ctx, ids[0])
	require.ErrorIs(t, err, approval.ErrInvalidTransition)

	stored, err := repo.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.AccountApproved, stored.Status)
}

func TestUnknownAccount(t *testing.T) {
	w := approval.New(repository.NewPendingAccountRepo(memstore.New()), nil, 0, quietLogger())
	_, err := w.Reject(context.Background(), 42)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestDecisionsEmptyEveryManagementView(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	repo := repository.NewPendingAccountRepo(st)
	w := approval.New(repo, nil, time.Second, quietLogger())
	ids := seedAccounts(t, repo, "Ravi", "Lakshmi")

	logger := quietLogger()
	feed := changefeed.NewClient(st, logger)
	opts := syncengine.Options{RetryMin: 10 * time.Millisecond, RetryMax: 40 * time.Millisecond}
	desks := []*syncengine.Session{
		syncengine.NewSession(model.PortalManagement, st, feed, logger, nil, opts),
		syncengine.NewSession(model.PortalManagement, st, feed, logger, nil, opts),
	}
	for _, s := range desks {
		require.NoError(t, s.Start(ctx))
		defer s.Stop()
		require.Len(t, s.PendingAccounts(), 2)
	}

	_, err := w.Reject(ctx, ids[1])
	require.NoError(t, err)
	for _, s := range desks {
		require.Eventually(t, func() bool {
			left := s.PendingAccounts()
			return len(left) == 1 && left[0].ID == ids[0]
		}, 2*time.Second, 5*time.Millisecond)
	}
	_, err = w.Approve(ctx, ids[0])
	require.NoError(t, err)

	for _, s := range desks {
		require.Eventually(t, func() bool { return len(s.PendingAccounts()) == 0 },
			2*time.Second, 5*time.Millisecond)
	}
	pending, err := w.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
