package validators

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/dapp_registry/internal/app/storage"
	"github.com/R3E-Network/dapp_registry/internal/app/storage/memory"
	"github.com/R3E-Network/dapp_registry/internal/errors"
	"github.com/R3E-Network/dapp_registry/internal/stake"
	"github.com/R3E-Network/dapp_registry/pkg/testutil"
)

func setup(t *testing.T, weights map[string]float64, total float64) (*Service, *stake.Static, storage.Tx) {
	t.Helper()
	dir := stake.NewStatic(weights, total)
	svc := New(dir, testutil.NewMockClock(time.Unix(1_700_000_000, 0)), nil)
	tx, err := memory.New().Begin(context.Background(), false)
	require.NoError(t, err)
	t.Cleanup(func() { tx.Rollback() })
	return svc, dir, tx
}

func TestRegisterAndDeregister(t *testing.T) {
	svc, _, tx := setup(t, nil, 0)
	ctx := context.Background()

	v, err := svc.Register(ctx, tx, "val1", "https://val1.example")
	require.NoError(t, err)
	assert.Zero(t, v.Weight)
	assert.Empty(t, v.Approvers)

	_, err = svc.Register(ctx, tx, "val1", "")
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))

	require.NoError(t, svc.Deregister(ctx, tx, "val1"))
	assert.True(t, errors.Is(svc.Deregister(ctx, tx, "val1"), errors.ErrNotFound))
}

func TestRegisterRejectsLongURL(t *testing.T) {
	svc, _, tx := setup(t, nil, 0)
	long := make([]byte, MaxURLLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := svc.Register(context.Background(), tx, "val1", string(long))
	assert.True(t, errors.Is(err, errors.ErrFieldTooLong))
}

func TestApproveRecomputesWeight(t *testing.T) {
	svc, _, tx := setup(t, map[string]float64{"bp1": 30, "bp2": 30, "bp3": 40}, 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, tx, "val1", "")
	require.NoError(t, err)

	v, err := svc.Approve(ctx, tx, "bp1", "val1")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, v.Weight, 1e-9)

	v, err = svc.Approve(ctx, tx, "bp3", "val1")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, v.Weight, 1e-9)
	assert.Equal(t, []string{"bp1", "bp3"}, v.Approvers)

	stored, err := svc.Get(ctx, tx, "val1")
	require.NoError(t, err)
	assert.Equal(t, v.Weight, stored.Weight)

	v, err = svc.Unapprove(ctx, tx, "bp1", "val1")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, v.Weight, 1e-9)
	assert.Equal(t, []string{"bp3"}, v.Approvers)
}

func TestApprovalErrors(t *testing.T) {
	svc, _, tx := setup(t, map[string]float64{"bp1": 1}, 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, tx, "val1", "")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, tx, "stranger", "val1")
	assert.True(t, errors.Is(err, errors.ErrUnauthorizedAuthority))

	_, err = svc.Approve(ctx, tx, "bp1", "ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = svc.Approve(ctx, tx, "bp1", "val1")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, tx, "bp1", "val1")
	assert.True(t, errors.Is(err, errors.ErrDuplicateApproval))

	_, err = svc.Unapprove(ctx, tx, "stranger", "val1")
	assert.True(t, errors.Is(err, errors.ErrUnauthorizedAuthority))

	require.NoError(t, func() error { _, err := svc.Unapprove(ctx, tx, "bp1", "val1"); return err }())
	_, err = svc.Unapprove(ctx, tx, "bp1", "val1")
	assert.True(t, errors.Is(err, errors.ErrApprovalNotFound))
}

func TestZeroTotalWeightYieldsZero(t *testing.T) {
	svc, _, tx := setup(t, map[string]float64{"bp1": 0}, 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, tx, "val1", "")
	require.NoError(t, err)

	v, err := svc.Approve(ctx, tx, "bp1", "val1")
	require.NoError(t, err)
	assert.Zero(t, v.Weight)
}

func TestRecomputeFollowsStakeChanges(t *testing.T) {
	svc, dir, tx := setup(t, map[string]float64{"bp1": 50, "bp2": 50}, 0)
	ctx := context.Background()
	_, err := svc.Register(ctx, tx, "val1", "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, tx, "bp1", "val1")
	require.NoError(t, err)

	dir.Set("bp2", 150)
	v, err := svc.Recompute(ctx, tx, "val1")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v.Weight, 1e-9)

	// An authority dropped from the directory stops counting.
	dir.Remove("bp1")
	v, err = svc.Recompute(ctx, tx, "val1")
	require.NoError(t, err)
	assert.Zero(t, v.Weight)
	assert.Equal(t, []string{"bp1"}, v.Approvers)
}

func TestApproverCap(t *testing.T) {
	weights := map[string]float64{}
	for i := 0; i < 4; i++ {
		weights[fmt.Sprintf("bp%d", i)] = 1
	}
	svc, _, tx := setup(t, weights, 0)
	svc.WithMaxApprovers(3)
	ctx := context.Background()
	_, err := svc.Register(ctx, tx, "val1", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := svc.Approve(ctx, tx, fmt.Sprintf("bp%d", i), "val1")
		require.NoError(t, err)
	}
	_, err = svc.Approve(ctx, tx, "bp3", "val1")
	assert.True(t, errors.Is(err, errors.ErrLimitExceeded))
}
