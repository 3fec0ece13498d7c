package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRoadType(t *testing.T) {
	tests := []struct {
		name     string
		roadName string
		expected RoadType
	}{
		{"autovia", "A-1", RoadAutopista},
		{"toll motorway", "AP-7", RoadAutopista},
		{"autovia no dash", "A2", RoadAutopista},
		{"lowercase", "ap-68", RoadAutopista},
		{"nacional", "N-340", RoadNacional},
		{"nacional no dash", "N634", RoadNacional},
		{"autonomica bilbao", "BI-20", RoadAutonomica},
		{"autonomica gipuzkoa", "GI-11", RoadAutonomica},
		{"autonomica cadiz", "CA-1", RoadAutonomica},
		{"provincial catalonia", "C-12", RoadProvincial},
		{"provincial lleida", "L-501", RoadProvincial},
		{"named street", "Calle Mayor", RoadLocal},
		{"trailing spaces", "  A-3  ", RoadAutopista},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyRoadType(&tt.roadName)
			require.NotNil(t, got)
			assert.Equal(t, tt.expected, *got)
		})
	}

	t.Run("nil name", func(t *testing.T) {
		assert.Nil(t, ClassifyRoadType(nil))
	})

	t.Run("empty name", func(t *testing.T) {
		empty := "   "
		assert.Nil(t, ClassifyRoadType(&empty))
	})

	t.Run("digits only", func(t *testing.T) {
		digits := "1234"
		assert.Nil(t, ClassifyRoadType(&digits))
	})
}

func TestMapCauseType(t *testing.T) {
	tests := []struct {
		code     string
		expected IncidentType
	}{
		{"accident", TypeAccident},
		{"vehicleObstruction", TypeVehicleObstruction},
		{"brokenDownVehicle", TypeVehicleObstruction},
		{"roadworks", TypeRoadworks},
		{"roadMaintenance", TypeRoadworks},
		{"poorEnvironmentConditions", TypeWeather},
		{"abnormalTraffic", TypeCongestion},
		{"generalObstruction", TypeObstruction},
		{"networkManagement", TypeRestriction},
		{"somethingNew", TypeUnknown},
		{"", TypeUnknown},
		{"  accident  ", TypeAccident},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapCauseType(tt.code))
		})
	}
}

func TestMapRecordType(t *testing.T) {
	tests := []struct {
		xsiType  string
		expected IncidentType
	}{
		{"_0:Accident", TypeAccident},
		{"_0:VehicleObstruction", TypeVehicleObstruction},
		{"_0:MaintenanceWorks", TypeRoadworks},
		{"_0:AbnormalTraffic", TypeCongestion},
		{"_0:NetworkManagement", TypeRestriction},
		{"Accident", TypeAccident},
		{"d2:GeneralObstruction", TypeObstruction},
		{"_0:Fanciful", TypeUnknown},
		{"", TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.xsiType, func(t *testing.T) {
			assert.Equal(t, tt.expected, MapRecordType(tt.xsiType))
		})
	}
}

func TestTranslateDirection(t *testing.T) {
	assert.Equal(t, "Ambos sentidos", TranslateDirection("bothWays"))
	assert.Equal(t, "Creciente", TranslateDirection("positive"))
	assert.Equal(t, "Decreciente", TranslateDirection("negative"))
	assert.Equal(t, "unknownCode", TranslateDirection("unknownCode"))
}
