package datex

import (
	"github.com/roadwatch/incident-etl/internal/domain"
)

// v36Parser handles DATEX II v3.6 situation publications (national feed).
type v36Parser struct{}

func (v36Parser) Parse(doc []byte) (Batch, error) {
	var batch Batch
	pubTime, err := parseDocument(doc, func(situ *node) {
		records := situ.findAll("situationRecord")
		if len(records) == 0 {
			batch.Skipped++
			return
		}
		severity := optString(situ.findText("overallSeverity"))
		for _, rec := range records {
			inc, ok := parseV36Record(situ, rec)
			if !ok {
				batch.Skipped++
				continue
			}
			if inc.Severity == nil {
				inc.Severity = severity
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

func parseV36Record(situ, rec *node) (domain.ParsedIncident, bool) {
	externalID := rec.attr("id")
	if externalID == "" {
		externalID = situ.attr("id")
	}
	if externalID == "" {
		return domain.ParsedIncident{}, false
	}

	cause := rec.findText("causeType")
	detailed := rec.findText("vehicleObstructionType")
	if detailed == "" {
		detailed = rec.findText("obstructionType")
	}
	if detailed == "" {
		detailed = rec.findText("environmentalObstructionType")
	}

	inc := domain.ParsedIncident{
		ExternalID:    externalID,
		Version:       parseVersion(rec.attr("version")),
		IncidentType:  domain.MapCauseType(cause),
		DetailedCause: optString(detailed),
		Severity:      optString(rec.findText("severity")),
		RoadName:      optString(v36RoadName(rec)),
		KmMarker:      optString(rec.findText("referencePointDistance")),
		Direction:     optString(domain.TranslateDirection(rec.findText("tpegDirection"))),

		Municipality:        optString(rec.findText("municipality")),
		Province:            optString(rec.findText("province")),
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

func v36RoadName(rec *node) string {
	if name := rec.findText("roadName"); name != "" {
		return name
	}
	return rec.findText("roadNumber")
}
