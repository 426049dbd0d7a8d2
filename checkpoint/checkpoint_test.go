package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/store"
	"github.com/getpup/medallion/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLanding(t *testing.T, s *memory.Store) int64 {
	t.Helper()
	ctx := context.Background()

	wsID, err := s.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: uuid.New(), Name: "ws", IsActive: true})
	require.NoError(t, err)
	lhID, err := s.UpsertLakehouse(ctx, medallion.Lakehouse{ExternalID: uuid.New(), WorkspaceID: wsID, Name: "lh", IsActive: true})
	require.NoError(t, err)
	connID, err := s.UpsertConnection(ctx, medallion.Connection{ExternalID: uuid.New(), Name: "c", IsActive: true})
	require.NoError(t, err)
	dsID, err := s.UpsertDataSource(ctx, medallion.DataSource{ExternalID: uuid.New(), ConnectionID: connID, Name: "ds", IsActive: true})
	require.NoError(t, err)
	id, err := s.UpsertLandingzoneEntity(ctx, medallion.LandingzoneEntity{
		DataSourceID: dsID, LakehouseID: lhID, SourceSchema: "dbo", SourceName: "Orders",
		IsIncremental: true, IncrementalColumn: "ModifiedAt", IsActive: true,
	})
	require.NoError(t, err)
	return id
}

func TestWatermarkDefaultsToSentinel(t *testing.T) {
	s := memory.New()
	id := seedLanding(t, s)
	c := New(Config{Store: s})

	value, found, err := c.Watermark(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Sentinel, value)
}

func TestSingleWatermarkPerEntity(t *testing.T) {
	s := memory.New()
	id := seedLanding(t, s)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := New(Config{Store: s, Now: func() time.Time { return now }})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, c.SetLastLoadValue(ctx, id, fmt.Sprintf("2024-03-0%d", i)))
	}

	value, found, err := c.Watermark(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2024-03-05", value)

	v, err := c.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, now, v.UpdatedAt)
}

func TestSetLastLoadValueValidation(t *testing.T) {
	m := &store.MockCheckpointStore{}
	c := New(Config{Store: m})
	ctx := context.Background()

	err := c.SetLastLoadValue(ctx, 0, "x")
	assert.True(t, errors.Is(err, medallion.ErrInvalidArgument))

	err = c.SetLastLoadValue(ctx, 1, "")
	assert.True(t, errors.Is(err, medallion.ErrInvalidArgument))

	assert.Empty(t, m.SetLastLoadValueCalls)
}

func TestSetLastLoadValueUnknownEntity(t *testing.T) {
	c := New(Config{Store: memory.New()})

	err := c.SetLastLoadValue(context.Background(), 42, "2024-01-01")
	assert.True(t, medallion.IsConstraint(err))
}

func TestWatermarkStoreError(t *testing.T) {
	boom := errors.New("connection reset")
	m := &store.MockCheckpointStore{
		GetLastLoadValueFunc: func(ctx context.Context, id int64) (medallion.LastLoadValue, error) {
			return medallion.LastLoadValue{}, boom
		},
	}
	c := New(Config{Store: m})

	value, found, err := c.Watermark(context.Background(), 1)
	assert.ErrorIs(t, err, boom)
	assert.False(t, found)
	assert.Empty(t, value)
}
