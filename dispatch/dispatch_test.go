package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/checkpoint"
	"github.com/getpup/medallion/metrics"
	"github.com/getpup/medallion/store"
	"github.com/getpup/medallion/store/memory"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapingRoundTrip(t *testing.T) {
	path := `landing/erp/"quoted"\dir/it's`
	views := &store.MockViewStore{
		BronzeRows: []store.BronzeReadyRow{{
			BronzeLayerEntityID: 1, SourceFilePath: path, SourceFileName: "a\"b.parquet",
			CleansingRules: `[{"function":"trim","columns":"Name"}]`,
		}},
	}
	d := New(Config{Views: views})

	work, err := d.GetBronzeLayerWork(context.Background())
	require.NoError(t, err)

	data, err := Marshal(work)
	require.NoError(t, err)

	parsed, err := Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, path, parsed[0].Params["source_file_path"])
	assert.Equal(t, "a\"b.parquet", parsed[0].Params["source_file_name"])
	assert.Equal(t, `[{"function":"trim","columns":"Name"}]`, parsed[0].Params[ParamCleansingRules])
	assert.Equal(t, DefaultBronzeTarget, parsed[0].Path)
}

func TestMarshalEmptyWorkSet(t *testing.T) {
	data, err := Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestBooleanAndGUIDFormatting(t *testing.T) {
	lh := uuid.MustParse("A1B2C3D4-0000-4000-8000-00000000ABCD")
	views := &store.MockViewStore{
		SilverRows: []store.SilverReadyRow{
			{SilverLayerEntityID: 1, IsIncremental: true, TargetLakehouseID: lh},
			{SilverLayerEntityID: 2, IsIncremental: false},
		},
	}
	d := New(Config{Views: views, Targets: Targets{Silver: "custom_silver"}})

	work, err := d.GetSilverLayerWork(context.Background())
	require.NoError(t, err)
	require.Len(t, work, 2)

	assert.Equal(t, "custom_silver", work[0].Path)
	assert.Equal(t, "True", work[0].Params[ParamIsIncremental])
	assert.Equal(t, "False", work[1].Params[ParamIsIncremental])
	assert.Equal(t, "a1b2c3d4-0000-4000-8000-00000000abcd", work[0].Params["target_lakehouse_guid"])
	assert.True(t, ParseBool(work[0].Params[ParamIsIncremental]))
	assert.False(t, ParseBool(work[1].Params[ParamIsIncremental]))
}

func TestDeterministicOrder(t *testing.T) {
	views := &store.MockViewStore{
		BronzeRows: []store.BronzeReadyRow{
			{BronzeLayerEntityID: 2, PipelineLandingzoneEntityID: 5},
			{BronzeLayerEntityID: 1, PipelineLandingzoneEntityID: 9},
			{BronzeLayerEntityID: 1, PipelineLandingzoneEntityID: 3},
		},
	}
	d := New(Config{Views: views})

	work, err := d.GetBronzeLayerWork(context.Background())
	require.NoError(t, err)

	var got []string
	for _, w := range work {
		got = append(got, w.Params[ParamBronzeLayerEntityID]+"/"+w.Params[ParamPipelineLandingzoneEntityID])
	}
	assert.Equal(t, []string{"1/3", "1/9", "2/5"}, got)
}

func TestLandingWorkUsesSentinel(t *testing.T) {
	views := &store.MockViewStore{
		LandingRows: []store.LandingReadyRow{{
			LandingzoneEntityID: 7, DataSourceType: "ASQL", SourceSchema: "dbo", SourceName: "Orders",
			IsIncremental: true, IncrementalColumn: "ModifiedAt",
		}},
	}
	d := New(Config{Views: views})

	work, err := d.GetLandingzoneWork(context.Background())
	require.NoError(t, err)
	require.Len(t, work, 1)

	assert.Equal(t, "7", work[0].Params[ParamLandingzoneEntityID])
	assert.Equal(t, checkpoint.Sentinel, work[0].Params[ParamLastLoadValue])
	assert.Contains(t, work[0].Params[ParamSourceQuery], "> '"+checkpoint.Sentinel+"'")
	_, ok := work[0].Params[ParamCleansingRules]
	assert.True(t, ok)
}

func TestViewErrorPropagates(t *testing.T) {
	boom := errors.New("view failed")
	d := New(Config{Views: &store.MockViewStore{Err: boom}})

	_, err := d.GetSilverLayerWork(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = d.GetWork(context.Background(), medallion.Layer("gold"))
	assert.ErrorIs(t, err, store.ErrUnknownLayer)
}

func TestReadyGaugeAndMemoryViews(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	wsExt := uuid.New()
	wsID, err := s.UpsertWorkspace(ctx, medallion.Workspace{ExternalID: wsExt, Name: "ws", IsActive: true})
	require.NoError(t, err)
	lhID, err := s.UpsertLakehouse(ctx, medallion.Lakehouse{ExternalID: uuid.New(), WorkspaceID: wsID, Name: "lh", IsActive: true})
	require.NoError(t, err)
	connID, err := s.UpsertConnection(ctx, medallion.Connection{ExternalID: uuid.New(), Name: "c", Type: "SqlServer", IsActive: true})
	require.NoError(t, err)
	dsID, err := s.UpsertDataSource(ctx, medallion.DataSource{ExternalID: uuid.New(), ConnectionID: connID, Name: "ds", Type: "ASQL", IsActive: true})
	require.NoError(t, err)
	for _, name := range []string{"B", "A"} {
		_, err = s.UpsertLandingzoneEntity(ctx, medallion.LandingzoneEntity{
			DataSourceID: dsID, LakehouseID: lhID, SourceSchema: "dbo", SourceName: name, IsActive: true,
		})
		require.NoError(t, err)
	}

	env := "dispatch-test"
	d := New(Config{Views: s, Metrics: metrics.NewCollector(env)})

	work, err := d.GetWork(ctx, medallion.LayerLanding)
	require.NoError(t, err)
	require.Len(t, work, 2)
	assert.Equal(t, "SELECT * FROM [dbo].[B]", work[0].Params[ParamSourceQuery])
	assert.Equal(t, wsExt.String(), work[0].Params["target_workspace_guid"])
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.DispatchReadyItems.WithLabelValues(env, "landing")))
}
