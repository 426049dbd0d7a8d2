package memory

import (
	"context"
	"sort"

	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
)

// lakehouseRefs resolves the external ids of a lakehouse and its workspace. Callers hold mu.
func (s *Store) lakehouseRefs(lakehouseID int64) (lakehouse, workspace uuid.UUID) {
	lh, ok := s.lakehouses[lakehouseID]
	if !ok {
		return uuid.Nil, uuid.Nil
	}
	return lh.ExternalID, s.workspaces[lh.WorkspaceID].ExternalID
}

// lakehouseActive reports whether a lakehouse and its workspace are both active. Callers hold mu.
func (s *Store) lakehouseActive(lakehouseID int64) bool {
	lh, ok := s.lakehouses[lakehouseID]
	if !ok || !lh.IsActive {
		return false
	}
	ws, ok := s.workspaces[lh.WorkspaceID]
	return ok && ws.IsActive
}

// ReadyForLandingExtraction returns one row per active landing entity whose data source, connection,
// target lakehouse and workspace are active.
func (s *Store) ReadyForLandingExtraction(ctx context.Context) ([]store.LandingReadyRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.landing))
	for id := range s.landing {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []store.LandingReadyRow
	for _, id := range ids {
		e := s.landing[id]
		ds := s.dataSources[e.DataSourceID]
		conn := s.connections[ds.ConnectionID]
		if !e.IsActive || !ds.IsActive || !conn.IsActive || !s.lakehouseActive(e.LakehouseID) {
			continue
		}

		row := store.LandingReadyRow{
			LandingzoneEntityID: e.ID,
			DataSourceID:        ds.ID,
			DataSourceName:      ds.Name,
			DataSourceNamespace: ds.Namespace,
			DataSourceType:      ds.Type,
			ConnectionID:        conn.ExternalID,
			ConnectionType:      conn.Type,
			SourceSchema:        e.SourceSchema,
			SourceName:          e.SourceName,
			FilePath:            e.FilePath,
			FileName:            e.FileName,
			FileType:            e.FileType,
			IsIncremental:       e.IsIncremental,
			IncrementalColumn:   e.IncrementalColumn,
		}
		if v, ok := s.lastLoad[e.ID]; ok {
			row.LastLoadValue = v.Value
			row.HasLastLoadValue = true
		}
		row.TargetLakehouseID, row.TargetWorkspaceID = s.lakehouseRefs(e.LakehouseID)
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadyForBronzeLoad returns one row per unprocessed landing unit and active bronze entity fed by it.
// Both lakehouses and their workspaces must be active.
func (s *Store) ReadyForBronzeLoad(ctx context.Context) ([]store.BronzeReadyRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.bronze))
	for id := range s.bronze {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []store.BronzeReadyRow
	for _, id := range ids {
		b := s.bronze[id]
		l := s.landing[b.LandingzoneEntityID]
		if !b.IsActive || !l.IsActive || !s.lakehouseActive(l.LakehouseID) || !s.lakehouseActive(b.LakehouseID) {
			continue
		}
		namespace := s.dataSources[l.DataSourceID].Namespace
		srcLH, srcWS := s.lakehouseRefs(l.LakehouseID)
		dstLH, dstWS := s.lakehouseRefs(b.LakehouseID)

		// landingUnits is append-only, so slice order is id order.
		for _, unit := range s.landingUnits {
			if unit.LandingzoneEntityID != l.ID || unit.IsProcessed {
				continue
			}
			rows = append(rows, store.BronzeReadyRow{
				BronzeLayerEntityID:         b.ID,
				LandingzoneEntityID:         l.ID,
				PipelineLandingzoneEntityID: unit.ID,
				SourceFilePath:              unit.Unit.FilePath,
				SourceFileName:              unit.Unit.FileName,
				SourceSchema:                l.SourceSchema,
				SourceName:                  l.SourceName,
				DataSourceNamespace:         namespace,
				TargetSchema:                b.Schema,
				TargetName:                  b.Name,
				PrimaryKeys:                 b.PrimaryKeys,
				FileType:                    b.FileType,
				CleansingRules:              b.CleansingRules,
				IsIncremental:               l.IsIncremental,
				SourceLakehouseID:           srcLH,
				SourceWorkspaceID:           srcWS,
				TargetLakehouseID:           dstLH,
				TargetWorkspaceID:           dstWS,
			})
		}
	}
	return rows, nil
}

// ReadyForSilverLoad returns one row per unprocessed bronze unit and active silver entity fed by it.
// Both lakehouses and their workspaces must be active.
func (s *Store) ReadyForSilverLoad(ctx context.Context) ([]store.SilverReadyRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.silver))
	for id := range s.silver {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []store.SilverReadyRow
	for _, id := range ids {
		sv := s.silver[id]
		b := s.bronze[sv.BronzeLayerEntityID]
		if !sv.IsActive || !b.IsActive || !s.lakehouseActive(b.LakehouseID) || !s.lakehouseActive(sv.LakehouseID) {
			continue
		}
		incremental := s.landing[b.LandingzoneEntityID].IsIncremental
		srcLH, srcWS := s.lakehouseRefs(b.LakehouseID)
		dstLH, dstWS := s.lakehouseRefs(sv.LakehouseID)

		for _, unit := range s.bronzeUnits {
			if unit.BronzeLayerEntityID != b.ID || unit.IsProcessed {
				continue
			}
			rows = append(rows, store.SilverReadyRow{
				SilverLayerEntityID:         sv.ID,
				BronzeLayerEntityID:         b.ID,
				PipelineBronzeLayerEntityID: unit.ID,
				SourceSchema:                unit.Unit.Schema,
				SourceName:                  unit.Unit.Table,
				TargetSchema:                sv.Schema,
				TargetName:                  sv.Name,
				PrimaryKeys:                 b.PrimaryKeys,
				FileType:                    sv.FileType,
				CleansingRules:              sv.CleansingRules,
				IsIncremental:               incremental,
				SourceLakehouseID:           srcLH,
				SourceWorkspaceID:           srcWS,
				TargetLakehouseID:           dstLH,
				TargetWorkspaceID:           dstWS,
			})
		}
	}
	return rows, nil
}

var _ store.Store = (*Store)(nil)
