package main

import (
	"fmt"
	"strconv"

	"github.com/getpup/medallion"
	"github.com/getpup/medallion/checkpoint"
	"github.com/getpup/medallion/registry"
	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the catalog tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		return s.Migrate(cmd.Context())
	},
}

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Register catalog records and layer entities",
	Long:  `Upsert workspaces, lakehouses, connections, data sources and landing, bronze and silver entities. Every upsert prints the internal id.`,
}

// withRegistry runs fn against a registry over the configured store.
func withRegistry(cmd *cobra.Command, fn func(r *registry.Registry) (int64, error)) error {
	s, closeStore, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStore()

	id, err := fn(registry.New(registry.Config{Store: s, Logger: app.logger, Metrics: app.metrics}))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func parseUUIDs(args ...string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		id, err := uuid.Parse(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a GUID", medallion.ErrInvalidArgument, a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var workspaceCmd = &cobra.Command{
	Use:   "workspace [external-id] [name]",
	Short: "Upsert a workspace",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			return r.UpsertWorkspace(cmd.Context(), ids[0], args[1])
		})
	},
}

var lakehouseCmd = &cobra.Command{
	Use:   "lakehouse [external-id] [workspace-external-id] [name]",
	Short: "Upsert a lakehouse",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(args[0], args[1])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			return r.UpsertLakehouse(cmd.Context(), ids[0], ids[1], args[2])
		})
	},
}

var connectionCmd = &cobra.Command{
	Use:   "connection [external-id] [name] [type]",
	Short: "Upsert a connection",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(args[0])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			return r.UpsertConnection(cmd.Context(), ids[0], args[1], args[2])
		})
	},
}

var dataSourceFlags struct {
	namespace   string
	sourceType  string
	description string
}

var dataSourceCmd = &cobra.Command{
	Use:   "datasource [external-id] [connection-external-id] [name]",
	Short: "Upsert a data source",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(args[0], args[1])
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			conn, err := r.ConnectionByExternalID(cmd.Context(), ids[1])
			if err != nil {
				return 0, fmt.Errorf("connection %s: %w", ids[1], err)
			}
			return r.UpsertDataSource(cmd.Context(), medallion.DataSource{
				ExternalID:   ids[0],
				ConnectionID: conn.ID,
				Name:         args[2],
				Namespace:    dataSourceFlags.namespace,
				Type:         dataSourceFlags.sourceType,
				Description:  dataSourceFlags.description,
			})
		})
	},
}

var landingFlags struct {
	dataSource        string
	lakehouse         string
	filePath          string
	fileName          string
	fileType          string
	incrementalColumn string
}

var landingCmd = &cobra.Command{
	Use:   "landing [source-schema] [source-name]",
	Short: "Upsert a landing zone entity",
	Long:  `Upsert a landing zone entity. Setting --incremental-column makes the entity incremental.`,
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(landingFlags.dataSource, landingFlags.lakehouse)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			ds, err := r.DataSourceByExternalID(cmd.Context(), ids[0])
			if err != nil {
				return 0, fmt.Errorf("data source %s: %w", ids[0], err)
			}
			lh, err := r.LakehouseByExternalID(cmd.Context(), ids[1])
			if err != nil {
				return 0, fmt.Errorf("lakehouse %s: %w", ids[1], err)
			}
			return r.UpsertLandingzoneEntity(cmd.Context(), medallion.LandingzoneEntity{
				DataSourceID:      ds.ID,
				LakehouseID:       lh.ID,
				SourceSchema:      args[0],
				SourceName:        args[1],
				FilePath:          landingFlags.filePath,
				FileName:          landingFlags.fileName,
				FileType:          landingFlags.fileType,
				IsIncremental:     landingFlags.incrementalColumn != "",
				IncrementalColumn: landingFlags.incrementalColumn,
			})
		})
	},
}

var layerEntityFlags struct {
	source         int64
	lakehouse      string
	primaryKeys    string
	fileType       string
	cleansingRules string
}

var bronzeCmd = &cobra.Command{
	Use:   "bronze [schema] [name]",
	Short: "Upsert a bronze layer entity fed by a landing entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(layerEntityFlags.lakehouse)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			lh, err := r.LakehouseByExternalID(cmd.Context(), ids[0])
			if err != nil {
				return 0, fmt.Errorf("lakehouse %s: %w", ids[0], err)
			}
			return r.UpsertBronzeLayerEntity(cmd.Context(), medallion.BronzeLayerEntity{
				LandingzoneEntityID: layerEntityFlags.source,
				LakehouseID:         lh.ID,
				Schema:              args[0],
				Name:                args[1],
				PrimaryKeys:         layerEntityFlags.primaryKeys,
				FileType:            layerEntityFlags.fileType,
				CleansingRules:      layerEntityFlags.cleansingRules,
			})
		})
	},
}

var silverCmd = &cobra.Command{
	Use:   "silver [schema] [name]",
	Short: "Upsert a silver layer entity fed by a bronze entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseUUIDs(layerEntityFlags.lakehouse)
		if err != nil {
			return err
		}
		return withRegistry(cmd, func(r *registry.Registry) (int64, error) {
			lh, err := r.LakehouseByExternalID(cmd.Context(), ids[0])
			if err != nil {
				return 0, fmt.Errorf("lakehouse %s: %w", ids[0], err)
			}
			return r.UpsertSilverLayerEntity(cmd.Context(), medallion.SilverLayerEntity{
				BronzeLayerEntityID: layerEntityFlags.source,
				LakehouseID:         lh.ID,
				Schema:              args[0],
				Name:                args[1],
				FileType:            layerEntityFlags.fileType,
				CleansingRules:      layerEntityFlags.cleansingRules,
			})
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate [workspace|lakehouse|connection|datasource|landing|bronze|silver] [id]",
	Short: "Deactivate a catalog record by external id or an entity by id",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()
		r := registry.New(registry.Config{Store: s, Logger: app.logger, Metrics: app.metrics})

		switch layer := medallion.Layer(args[0]); layer {
		case medallion.LayerLanding, medallion.LayerBronze, medallion.LayerSilver:
			id, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q is not an entity id", medallion.ErrInvalidArgument, args[1])
			}
			return r.DeactivateEntity(cmd.Context(), layer, id)
		}

		ids, err := parseUUIDs(args[1])
		if err != nil {
			return err
		}
		return r.Deactivate(cmd.Context(), store.CatalogKind(args[0]), ids[0])
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint [landing-entity-id] [value]",
	Short: "Show or set the watermark of a landing entity",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not an entity id", medallion.ErrInvalidArgument, args[0])
		}
		s, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		c := checkpoint.New(checkpoint.Config{Store: s, Logger: app.logger, Metrics: app.metrics})
		if len(args) == 2 {
			return c.SetLastLoadValue(cmd.Context(), id, args[1])
		}
		value, found, err := c.Watermark(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (never loaded)\n", value)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

func init() {
	dataSourceCmd.Flags().StringVar(&dataSourceFlags.namespace, "namespace", "", "Folder prefix of landing output")
	dataSourceCmd.Flags().StringVar(&dataSourceFlags.sourceType, "type", "", "Source dialect, e.g. ASQL, ORACLE, MYSQL or ADLS")
	dataSourceCmd.Flags().StringVar(&dataSourceFlags.description, "description", "", "Free text description")

	landingCmd.Flags().StringVar(&landingFlags.dataSource, "datasource", "", "Data source external id")
	landingCmd.Flags().StringVar(&landingFlags.lakehouse, "lakehouse", "", "Target lakehouse external id")
	landingCmd.Flags().StringVar(&landingFlags.filePath, "file-path", "", "Folder of produced files")
	landingCmd.Flags().StringVar(&landingFlags.fileName, "file-name", "", "Name of produced files")
	landingCmd.Flags().StringVar(&landingFlags.fileType, "file-type", "parquet", "File type of produced files")
	landingCmd.Flags().StringVar(&landingFlags.incrementalColumn, "incremental-column", "", "Watermark column of an incremental extraction")
	_ = landingCmd.MarkFlagRequired("datasource")
	_ = landingCmd.MarkFlagRequired("lakehouse")

	for _, c := range []*cobra.Command{bronzeCmd, silverCmd} {
		c.Flags().Int64Var(&layerEntityFlags.source, "source", 0, "Id of the feeding entity of the previous layer")
		c.Flags().StringVar(&layerEntityFlags.lakehouse, "lakehouse", "", "Lakehouse external id")
		c.Flags().StringVar(&layerEntityFlags.fileType, "file-type", "Delta", "Table format")
		c.Flags().StringVar(&layerEntityFlags.cleansingRules, "cleansing-rules", "", "Serialized cleansing rules")
		_ = c.MarkFlagRequired("source")
		_ = c.MarkFlagRequired("lakehouse")
	}
	bronzeCmd.Flags().StringVar(&layerEntityFlags.primaryKeys, "primary-keys", "", "Comma separated key columns")

	registryCmd.AddCommand(workspaceCmd)
	registryCmd.AddCommand(lakehouseCmd)
	registryCmd.AddCommand(connectionCmd)
	registryCmd.AddCommand(dataSourceCmd)
	registryCmd.AddCommand(landingCmd)
	registryCmd.AddCommand(bronzeCmd)
	registryCmd.AddCommand(silverCmd)
	registryCmd.AddCommand(deactivateCmd)

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(registryCmd)
	rootCmd.AddCommand(checkpointCmd)
}
