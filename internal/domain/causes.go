package domain

import "strings"

// causeTypes maps DATEX II causeType vocabulary (v3.6 feeds) to the canonical
// incident type. Codes absent from the table classify as unknown.
var causeTypes = map[string]IncidentType{
	"accident":                          TypeAccident,
	"vehicleObstruction":                TypeVehicleObstruction,
	"brokenDownVehicle":                 TypeVehicleObstruction,
	"abandonedVehicle":                  TypeVehicleObstruction,
	"roadworks":                         TypeRoadworks,
	"roadMaintenance":                   TypeRoadworks,
	"constructionWork":                  TypeRoadworks,
	"poorEnvironmentConditions":         TypeWeather,
	"poorRoadSurfaceConditions":         TypeWeather,
	"weatherConditions":                 TypeWeather,
	"congestion":                        TypeCongestion,
	"abnormalTraffic":                   TypeCongestion,
	"obstruction":                       TypeObstruction,
	"generalObstruction":                TypeObstruction,
	"animalPresenceObstruction":         TypeObstruction,
	"environmentalObstruction":          TypeObstruction,
	"trafficManagement":                 TypeRestriction,
	"networkManagement":                 TypeRestriction,
	"roadOrCarriagewayOrLaneManagement": TypeRestriction,
}

// recordTypes maps DATEX II v1.0 situationRecord xsi:type names (after the
// namespace prefix is stripped) to the canonical incident type.
var recordTypes = map[string]IncidentType{
	"Accident":                          TypeAccident,
	"VehicleObstruction":                TypeVehicleObstruction,
	"MaintenanceWorks":                  TypeRoadworks,
	"ConstructionWorks":                 TypeRoadworks,
	"PoorEnvironmentConditions":         TypeWeather,
	"WeatherRelatedRoadConditions":      TypeWeather,
	"NonWeatherRelatedRoadConditions":   TypeWeather,
	"AbnormalTraffic":                   TypeCongestion,
	"GeneralObstruction":                TypeObstruction,
	"AnimalPresenceObstruction":         TypeObstruction,
	"EnvironmentalObstruction":          TypeObstruction,
	"NetworkManagement":                 TypeRestriction,
	"RoadOrCarriagewayOrLaneManagement": TypeRestriction,
	"GeneralNetworkManagement":          TypeRestriction,
	"PublicEvent":                       TypeRestriction,
}

// MapCauseType resolves a DATEX II causeType code to the canonical
// classification, defaulting to unknown rather than failing.
func MapCauseType(code string) IncidentType {
	code = strings.TrimSpace(code)
	if code == "" {
		return TypeUnknown
	}
	if t, ok := causeTypes[code]; ok {
		return t
	}
	return TypeUnknown
}

// MapRecordType resolves a v1.0 situationRecord xsi:type (e.g. "_0:Accident")
// to the canonical classification, defaulting to unknown.
func MapRecordType(xsiType string) IncidentType {
	name := strings.TrimSpace(xsiType)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		return TypeUnknown
	}
	if t, ok := recordTypes[name]; ok {
		return t
	}
	return TypeUnknown
}

// directionNames translates DATEX direction codes into the Spanish labels the
// authorities publish on their own map products.
var directionNames = map[string]string{
	"bothWays":    "Ambos sentidos",
	"both":        "Ambos sentidos",
	"positive":    "Creciente",
	"negative":    "Decreciente",
	"creciente":   "Creciente",
	"decreciente": "Decreciente",
}

// TranslateDirection maps a source direction code to its Spanish label,
// passing unrecognized values through unchanged.
func TranslateDirection(code string) string {
	if name, ok := directionNames[code]; ok {
		return name
	}
	return code
}
