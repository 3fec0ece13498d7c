// Package domain models roadside incidents published by the Spanish traffic
// authorities (DGT and the regional authorities of the Basque Country and
// Catalonia) over DATEX II situation feeds.
//
// # Data Sources
//
// Each authority publishes an XML SituationPublication document: a list of
// "situation" elements, each carrying one or more "situationRecord" elements.
// The national feed uses DATEX II v3.6; the two regional feeds use DATEX II
// v1.0 with different element layouts. The adapters in
// internal/adapter/datex translate both dialects into [ParsedIncident].
//
// # Identity and Versioning
//
// A situationRecord id identifies one reported situation within one
// authority; the same id is reused across revisions of that situation, so
// canonical identity is (source, external_id), never coordinates and never
// a physical device. The record's version attribute is monotonically
// non-decreasing; reconciliation applies an update only when the incoming
// version is strictly greater than the stored one. A record disappearing
// from its feed means the situation ended.
//
// # Cause Vocabulary
//
// v3.6 records carry a causeType code ("accident", "vehicleObstruction",
// "roadworks", ...); v1.0 records encode the same information in the
// xsi:type of the situationRecord element ("_0:Accident",
// "_0:VehicleObstruction", ...). Both vocabularies map through explicit
// lookup tables into [IncidentType]; unmapped codes become [TypeUnknown].
// The subcause "vehicleStuck" marks a V16 roadside beacon activation, the
// class of incident the vulnerability scorer targets.
//
// # Road Classification
//
// Spanish road names encode their class in the prefix:
//
//	A-1, AP-7     autopista (motorway / toll motorway)
//	N-340         nacional
//	BI-20, GI-11  autonomica (two-letter regional prefix)
//	C-12, L-501   provincial (single-letter prefix)
//
// Anything else carrying letters is a local road. See [ClassifyRoadType].
//
// # Kilometer Markers
//
// The referencePointDistance element carries the PK (punto kilométrico), the
// distance marker locating the incident along its road. It is kept in the
// source's string form since formats differ per authority.
package domain
