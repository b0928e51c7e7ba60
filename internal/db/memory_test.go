package db

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ RequestCollection = (*MemoryStore)(nil)
	_ VehicleCollection = (*MemoryStore)(nil)
	_ SiteCollection    = (*MemoryStore)(nil)
	_ UserCollection    = (*MemoryStore)(nil)
	_ RequestCollection = (*MongoCollection)(nil)
	_ VehicleCollection = (*MongoCollection)(nil)
	_ SiteCollection    = (*MongoCollection)(nil)
	_ UserCollection    = (*MongoUserCollection)(nil)
)

func TestMemoryStore_CompareAndSwapRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	req := &models.Request{Status: models.StatusPendingDecision, CreatedAt: time.Now()}
	require.NoError(t, store.InsertRequest(ctx, req))
	require.False(t, req.ID.IsZero())

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := *req
			next.Status = models.StatusInRepair
			if err := store.CompareAndSwapRequest(ctx, models.StatusPendingDecision, next); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.ErrorIs(t, err, ErrStatusChanged)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	stored, err := store.FindRequestByID(ctx, req.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.StatusInRepair, stored.Status)

	missing := models.Request{ID: primitive.NewObjectID()}
	assert.ErrorIs(t, store.CompareAndSwapRequest(ctx, models.StatusPendingDecision, missing), ErrNotFound)
}

func TestMemoryStore_FindRequests(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, site := range []string{"a", "a", "b"} {
		require.NoError(t, store.InsertRequest(ctx, &models.Request{
			SiteID:    site,
			DriverID:  "driver",
			Status:    models.StatusPendingDiagnosis,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := store.FindRequests(ctx, RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt), "expected newest first")

	siteA, err := store.FindRequests(ctx, RequestFilter{SiteID: "a"})
	require.NoError(t, err)
	assert.Len(t, siteA, 2)

	bounded, err := store.FindRequests(ctx, RequestFilter{CreatedFrom: base, CreatedTo: base.Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, bounded, 2, "bounds are inclusive")

	none, err := store.FindRequests(ctx, RequestFilter{Statuses: []models.Status{models.StatusClosed}})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_NotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.FindRequestByID(ctx, "not-an-object-id")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindVehicleByID(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindSiteByID(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.FindUserByUsername(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Users(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertUser(ctx, models.User{Username: "tech", Role: models.RoleTechnician, SiteID: "s1"}))
	require.NoError(t, store.InsertUser(ctx, models.User{Username: "tech2", Role: models.RoleTechnician, SiteID: "s2"}))

	techs, err := store.FindUsersByRole(ctx, models.RoleTechnician, "s1")
	require.NoError(t, err)
	require.Len(t, techs, 1)

	id := techs[0].ID.Hex()
	require.NoError(t, store.AddPushToken(ctx, id, "tok"))
	require.NoError(t, store.AddPushToken(ctx, id, "tok"))
	user, err := store.FindUserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok"}, user.PushTokens)
	assert.True(t, user.IsActive)
}

func TestMemoryStore_FindUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertUser(ctx, models.User{Username: "zoe", Role: models.RoleDriver, SiteID: "s1"}))
	require.NoError(t, store.InsertUser(ctx, models.User{Username: "amir", Role: models.RoleDriver, SiteID: "s2"}))
	require.NoError(t, store.InsertUser(ctx, models.User{Username: "kim", Role: models.RoleCoordinator, SiteID: "s1"}))

	all, err := store.FindUsers(ctx, UserFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "amir", all[0].Username)
	assert.Equal(t, "zoe", all[2].Username)

	drivers, err := store.FindUsers(ctx, UserFilter{Role: models.RoleDriver})
	require.NoError(t, err)
	assert.Len(t, drivers, 2)

	site, err := store.FindUsers(ctx, UserFilter{Role: models.RoleDriver, SiteID: "s1"})
	require.NoError(t, err)
	require.Len(t, site, 1)
	assert.Equal(t, "zoe", site[0].Username)

	none, err := store.FindUsers(ctx, UserFilter{SiteID: "s9"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_DuplicatePlate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.InsertVehicle(ctx, &models.Vehicle{Plate: "ABC123", SiteID: "s1"}))
	err := store.InsertVehicle(ctx, &models.Vehicle{Plate: "abc123", SiteID: "s2"})
	assert.ErrorIs(t, err, ErrDuplicate)

	vehicles, err := store.FindVehicles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, vehicles, 1)
}
