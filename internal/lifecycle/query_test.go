package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/models"
)

func TestParseBucket(t *testing.T) {
	tests := []struct {
		in   string
		want Bucket
		ok   bool
	}{
		{"", BucketAll, true},
		{"all", BucketAll, true},
		{"pending-decision", BucketPendingDecision, true},
		{"historical", BucketHistorical, true},
		{"closed", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseBucket(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestEngine_ListScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	diagnosing := f.advance(t, models.StatusPendingDiagnosis)
	repairing := f.advance(t, models.StatusInRepair)
	closed := f.advance(t, models.StatusClosed)

	south := models.Vehicle{SiteID: "site-south", Plate: "SOU-1"}
	require.NoError(t, f.store.InsertVehicle(ctx, &south))
	southDriver := claims(models.RoleDriver, "site-south")
	foreign, err := f.engine.Submit(ctx, southDriver, SubmitInput{VehicleID: south.ID.Hex(), IssueText: "Flat tyre", Signature: "s"})
	require.NoError(t, err)

	ids := func(reqs []models.Request) []string {
		out := make([]string, 0, len(reqs))
		for _, r := range reqs {
			out = append(out, r.ID.Hex())
		}
		return out
	}

	all, err := f.engine.List(ctx, f.coord, BucketAll, "site-south")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{diagnosing.ID.Hex(), repairing.ID.Hex(), closed.ID.Hex()}, ids(all),
		"coordinators stay on their own site whatever site_id is passed")

	historical, err := f.engine.List(ctx, f.tech, BucketHistorical, "")
	require.NoError(t, err)
	assert.Equal(t, []string{closed.ID.Hex()}, ids(historical))

	inRepair, err := f.engine.List(ctx, f.tech, BucketInRepair, "")
	require.NoError(t, err)
	assert.Equal(t, []string{repairing.ID.Hex()}, ids(inRepair))

	mine, err := f.engine.List(ctx, f.otherDriver, BucketAll, "")
	require.NoError(t, err)
	assert.Empty(t, mine)

	everything, err := f.engine.List(ctx, f.admin, BucketAll, "")
	require.NoError(t, err)
	assert.Len(t, everything, 4)

	southOnly, err := f.engine.List(ctx, f.admin, BucketPendingDiagnosis, "site-south")
	require.NoError(t, err)
	assert.Equal(t, []string{foreign.ID.Hex()}, ids(southOnly))

	_, err = f.engine.List(ctx, f.coord, Bucket("bogus"), "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.engine.List(ctx, models.Claims{UserID: "x", Role: "viewer"}, BucketAll, "")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEngine_Get(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.advance(t, models.StatusPendingDecision).ID.Hex()

	for _, caller := range []models.Claims{f.driver, f.tech, f.coord, f.admin} {
		got, err := f.engine.Get(ctx, caller, id)
		require.NoError(t, err)
		assert.Equal(t, id, got.ID.Hex())
	}
	for _, caller := range []models.Claims{f.otherDriver, f.foreignTech} {
		_, err := f.engine.Get(ctx, caller, id)
		assert.ErrorIs(t, err, ErrForbidden)
	}
}

func TestEngine_PendingCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.advance(t, models.StatusPendingDiagnosis)
	f.advance(t, models.StatusPendingDecision)
	f.advance(t, models.StatusInRepair)
	f.advance(t, models.StatusReadyForDelivery)
	f.advance(t, models.StatusPendingClosure)
	f.advance(t, models.StatusClosed)

	tests := []struct {
		name   string
		caller models.Claims
		want   int
	}{
		{"driver", f.driver, 1},
		{"other driver", f.otherDriver, 0},
		{"technician", f.tech, 2},
		{"foreign technician", f.foreignTech, 0},
		{"coordinator", f.coord, 2},
		{"admin", f.admin, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.engine.PendingCount(ctx, tt.caller)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
