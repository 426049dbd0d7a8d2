package memory

import (
	"sync"
	"time"

	"github.com/getpup/medallion"
	"github.com/google/uuid"
)

type landingKey struct {
	schema       string
	name         string
	dataSourceID int64
}

type layerKey struct {
	lakehouseID int64
	schema      string
	name        string
}

type landingUnitKey struct {
	entityID int64
	unit     medallion.LandingUnit
}

type bronzeUnitKey struct {
	entityID int64
	unit     medallion.BronzeUnit
}

type sequenceKey struct {
	phase     string
	operation string
}

// Store is an in-memory implementation of store.Store.
// It enforces the same uniqueness and reference rules as the SQL schema and is safe for concurrent use.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	ids map[string]int64 // table -> last issued id

	workspaces    map[int64]medallion.Workspace
	workspaceExt  map[uuid.UUID]int64
	lakehouses    map[int64]medallion.Lakehouse
	lakehouseExt  map[uuid.UUID]int64
	connections   map[int64]medallion.Connection
	connectionExt map[uuid.UUID]int64
	dataSources   map[int64]medallion.DataSource
	dataSourceExt map[uuid.UUID]int64

	landing     map[int64]medallion.LandingzoneEntity
	landingKeys map[landingKey]int64
	bronze      map[int64]medallion.BronzeLayerEntity
	bronzeKeys  map[layerKey]int64
	silver      map[int64]medallion.SilverLayerEntity
	silverKeys  map[layerKey]int64

	lastLoad map[int64]medallion.LastLoadValue

	landingUnits []medallion.PipelineLandingzoneEntity
	openLanding  map[landingUnitKey]int // -> index in landingUnits
	bronzeUnits  []medallion.PipelineBronzeLayerEntity
	openBronze   map[bronzeUnitKey]int // -> index in bronzeUnits

	claims map[medallion.ClaimKey]medallion.Claim

	audit map[medallion.AuditKind][]medallion.AuditEvent

	migrationLog []medallion.MigrationLogEntry
	sequences    map[sequenceKey]int64
	validations  []medallion.DataLoadValidation
	tableSizes   []medallion.TableSizeAnalysis
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for every timestamp the store stamps itself.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a new in-memory store with initialized maps.
func New(opts ...Option) *Store {
	s := &Store{
		now:           time.Now,
		ids:           make(map[string]int64),
		workspaces:    make(map[int64]medallion.Workspace),
		workspaceExt:  make(map[uuid.UUID]int64),
		lakehouses:    make(map[int64]medallion.Lakehouse),
		lakehouseExt:  make(map[uuid.UUID]int64),
		connections:   make(map[int64]medallion.Connection),
		connectionExt: make(map[uuid.UUID]int64),
		dataSources:   make(map[int64]medallion.DataSource),
		dataSourceExt: make(map[uuid.UUID]int64),
		landing:       make(map[int64]medallion.LandingzoneEntity),
		landingKeys:   make(map[landingKey]int64),
		bronze:        make(map[int64]medallion.BronzeLayerEntity),
		bronzeKeys:    make(map[layerKey]int64),
		silver:        make(map[int64]medallion.SilverLayerEntity),
		silverKeys:    make(map[layerKey]int64),
		lastLoad:      make(map[int64]medallion.LastLoadValue),
		openLanding:   make(map[landingUnitKey]int),
		openBronze:    make(map[bronzeUnitKey]int),
		claims:        make(map[medallion.ClaimKey]medallion.Claim),
		audit:         make(map[medallion.AuditKind][]medallion.AuditEvent),
		sequences:     make(map[sequenceKey]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nextID must be called with mu held for writing.
func (s *Store) nextID(table string) int64 {
	s.ids[table]++
	return s.ids[table]
}
