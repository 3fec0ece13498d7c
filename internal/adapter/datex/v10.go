package datex

import (
	"github.com/roadwatch/incident-etl/internal/domain"
)

// v10Parser handles DATEX II v1.0 situation publications (regional feeds).
// Record kinds are carried as xsi:type attributes and location details come
// from TPEG name descriptors rather than dedicated elements.
type v10Parser struct{}

func (v10Parser) Parse(doc []byte) (Batch, error) {
	var batch Batch
	pubTime, err := parseDocument(doc, func(situ *node) {
		records := situ.findAll("situationRecord")
		if len(records) == 0 {
			batch.Skipped++
			return
		}
		for _, rec := range records {
			inc, ok := parseV10Record(situ, rec)
			if !ok {
				batch.Skipped++
				continue
			}
			batch.Incidents = append(batch.Incidents, inc)
		}
	})
	if err != nil {
		return Batch{}, err
	}
	batch.PublicationTime = pubTime
	return batch, nil
}

func parseV10Record(situ, rec *node) (domain.ParsedIncident, bool) {
	externalID := rec.attr("id")
	if externalID == "" {
		externalID = situ.attr("id")
	}
	if externalID == "" {
		return domain.ParsedIncident{}, false
	}

	desc := tpegDescriptors(rec)

	direction := rec.findText("directionRelative")
	if direction == "" {
		direction = rec.findText("tpegDirection")
	}

	inc := domain.ParsedIncident{
		ExternalID:    externalID,
		Version:       parseVersion(rec.attr("version")),
		IncidentType:  domain.MapRecordType(rec.attr("type")),
		DetailedCause: optString(v10DetailedCause(rec)),
		Severity:      optString(rec.findText("severity")),
		RoadName:      optString(v10RoadName(rec, desc)),
		KmMarker:      optString(v10KmMarker(rec)),
		Direction:     optString(domain.TranslateDirection(direction)),

		Municipality:        optString(desc["townName"]),
		Province:            optString(v10Province(rec, desc)),
		AutonomousCommunity: optString(rec.findText("autonomousCommunity")),
	}

	inc.Geometry = recordGeometry(rec)

	if start := rec.findText("overallStartTime"); start != "" {
		inc.ActivationTime = parseTimestamp(start)
	}
	if inc.ActivationTime == nil {
		inc.ActivationTime = parseTimestamp(rec.findText("situationRecordCreationTime"))
	}

	return inc, true
}

// tpegDescriptors collects TPEG name descriptors keyed by descriptor type,
// e.g. linkName or townName. First value per type wins.
func tpegDescriptors(rec *node) map[string]string {
	out := make(map[string]string)
	for _, name := range rec.findAll("name") {
		kind := name.findText("tpegDescriptorType")
		if kind == "" {
			kind = name.find("descriptor").attr("type")
		}
		value := name.findText("value")
		if value == "" {
			value = name.findText("descriptor")
		}
		if kind == "" || value == "" {
			continue
		}
		if _, seen := out[kind]; !seen {
			out[kind] = value
		}
	}
	return out
}

func v10DetailedCause(rec *node) string {
	for _, field := range []string{
		"vehicleObstructionType",
		"obstructionType",
		"abnormalTrafficType",
		"accidentType",
		"poorEnvironmentType",
	} {
		if v := rec.findText(field); v != "" {
			return v
		}
	}
	return ""
}

func v10RoadName(rec *node, desc map[string]string) string {
	if v := desc["linkName"]; v != "" {
		return v
	}
	if road := rec.find("roadName"); road != nil {
		if v := road.findText("value"); v != "" {
			return v
		}
	}
	return rec.findText("roadNumber")
}

// v10Province reads the province. Some regional publishers only carry it as
// a TPEG descriptor of type "other".
func v10Province(rec *node, desc map[string]string) string {
	if v := desc["administrativeAreaName"]; v != "" {
		return v
	}
	if v := desc["other"]; v != "" {
		return v
	}
	if area := rec.find("administrativeArea"); area != nil {
		if v := area.findText("value"); v != "" {
			return v
		}
	}
	return ""
}

func v10KmMarker(rec *node) string {
	if v := rec.findText("referencePointDistance"); v != "" {
		return v
	}
	return rec.findText("distanceAlong")
}
