package dispatch

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/getpup/medallion/store"
	"github.com/google/uuid"
)

// Instruction is one unit of work handed to an external executor.
// Every parameter is a string; booleans are "True" or "False" and GUIDs are lower case.
type Instruction struct {
	Path   string            `json:"path"`
	Params map[string]string `json:"params"`
}

// Parameter names shared by the instructions of every layer.
const (
	ParamLandingzoneEntityID         = "landingzone_entity_id"
	ParamBronzeLayerEntityID         = "bronze_layer_entity_id"
	ParamSilverLayerEntityID         = "silver_layer_entity_id"
	ParamPipelineLandingzoneEntityID = "pipeline_landingzone_entity_id"
	ParamPipelineBronzeLayerEntityID = "pipeline_bronze_layer_entity_id"
	ParamSourceQuery                 = "source_query"
	ParamLastLoadValue               = "last_load_value"
	ParamIsIncremental               = "is_incremental"
	ParamCleansingRules              = "cleansing_rules"
)

func boolParam(v bool) string {
	if v {
		return "True"
	}
	return "False"
}

func guidParam(id uuid.UUID) string {
	return strings.ToLower(id.String())
}

func idParam(id int64) string {
	return strconv.FormatInt(id, 10)
}

// LandingInstruction serializes a ready landing row for the extraction executor at path.
func LandingInstruction(path string, row store.LandingReadyRow) Instruction {
	ex := ExtractionFor(row)
	lastLoad := ""
	if row.IsIncremental {
		lastLoad = ex.EffectiveWatermark()
	}

	return Instruction{
		Path: path,
		Params: map[string]string{
			ParamLandingzoneEntityID: idParam(row.LandingzoneEntityID),
			"data_source_id":         idParam(row.DataSourceID),
			"data_source_name":       row.DataSourceName,
			"data_source_namespace":  row.DataSourceNamespace,
			"data_source_type":       row.DataSourceType,
			"connection_guid":        guidParam(row.ConnectionID),
			"connection_type":        row.ConnectionType,
			"source_schema":          row.SourceSchema,
			"source_name":            row.SourceName,
			ParamSourceQuery:         ex.SQL(),
			"target_file_path":       row.FilePath,
			"target_file_name":       row.FileName,
			"file_type":              row.FileType,
			ParamIsIncremental:       boolParam(row.IsIncremental),
			"incremental_column":     row.IncrementalColumn,
			ParamLastLoadValue:       lastLoad,
			"target_lakehouse_guid":  guidParam(row.TargetLakehouseID),
			"target_workspace_guid":  guidParam(row.TargetWorkspaceID),
			ParamCleansingRules:      "",
		},
	}
}

// BronzeInstruction serializes a ready bronze row for the landing to bronze executor at path.
func BronzeInstruction(path string, row store.BronzeReadyRow) Instruction {
	return Instruction{
		Path: path,
		Params: map[string]string{
			ParamBronzeLayerEntityID:         idParam(row.BronzeLayerEntityID),
			ParamLandingzoneEntityID:         idParam(row.LandingzoneEntityID),
			ParamPipelineLandingzoneEntityID: idParam(row.PipelineLandingzoneEntityID),
			"source_file_path":               row.SourceFilePath,
			"source_file_name":               row.SourceFileName,
			"source_schema":                  row.SourceSchema,
			"source_name":                    row.SourceName,
			"data_source_namespace":          row.DataSourceNamespace,
			"target_schema":                  row.TargetSchema,
			"target_name":                    row.TargetName,
			"primary_keys":                   row.PrimaryKeys,
			"file_type":                      row.FileType,
			ParamCleansingRules:              row.CleansingRules,
			ParamIsIncremental:               boolParam(row.IsIncremental),
			"source_lakehouse_guid":          guidParam(row.SourceLakehouseID),
			"source_workspace_guid":          guidParam(row.SourceWorkspaceID),
			"target_lakehouse_guid":          guidParam(row.TargetLakehouseID),
			"target_workspace_guid":          guidParam(row.TargetWorkspaceID),
		},
	}
}

// SilverInstruction serializes a ready silver row for the bronze to silver executor at path.
func SilverInstruction(path string, row store.SilverReadyRow) Instruction {
	return Instruction{
		Path: path,
		Params: map[string]string{
			ParamSilverLayerEntityID:         idParam(row.SilverLayerEntityID),
			ParamBronzeLayerEntityID:         idParam(row.BronzeLayerEntityID),
			ParamPipelineBronzeLayerEntityID: idParam(row.PipelineBronzeLayerEntityID),
			"source_schema":                  row.SourceSchema,
			"source_name":                    row.SourceName,
			"target_schema":                  row.TargetSchema,
			"target_name":                    row.TargetName,
			"primary_keys":                   row.PrimaryKeys,
			"file_type":                      row.FileType,
			ParamCleansingRules:              row.CleansingRules,
			ParamIsIncremental:               boolParam(row.IsIncremental),
			"source_lakehouse_guid":          guidParam(row.SourceLakehouseID),
			"source_workspace_guid":          guidParam(row.SourceWorkspaceID),
			"target_lakehouse_guid":          guidParam(row.TargetLakehouseID),
			"target_workspace_guid":          guidParam(row.TargetWorkspaceID),
		},
	}
}

// Marshal encodes instructions as the JSON array consumed by the scheduler.
// An empty work set encodes as [].
func Marshal(instructions []Instruction) ([]byte, error) {
	if instructions == nil {
		instructions = []Instruction{}
	}
	return json.Marshal(instructions)
}

// Unmarshal decodes a work set produced by Marshal.
func Unmarshal(data []byte) ([]Instruction, error) {
	var out []Instruction
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseBool parses a "True"/"False" parameter. Any other value is false.
func ParseBool(v string) bool {
	return v == "True"
}
