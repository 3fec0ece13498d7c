// Package scoring computes vulnerability assessments for stopped-vehicle
// incidents: how exposed the occupants are, from how isolated the location
// is, how long the vehicle has been there, whether it is night, and what
// kind of road it sits on.
package scoring

import (
	"fmt"
	"time"

	"github.com/roadwatch/incident-etl/internal/config"
	"github.com/roadwatch/incident-etl/internal/domain"
)

// Sub-score fallbacks for incidents missing the relevant input.
const (
	defaultIsolationScore = 50
	defaultRoadTypeScore  = 30
)

// Risk factor triggers.
const (
	isolationFactorMin = 80
	exposureFactorMin  = 120 // minutes
	nightStartHour     = 22
	nightEndHour       = 6
)

var roadTypeScores = map[domain.RoadType]float64{
	domain.RoadAutopista:  100,
	domain.RoadNacional:   80,
	domain.RoadAutonomica: 60,
	domain.RoadProvincial: 40,
	domain.RoadLocal:      20,
}

// Scorer computes vulnerability scores. It is pure: all inputs are the
// incident, the reference set and the clock value passed in.
type Scorer struct {
	cfg     config.Scoring
	centers []domain.UrbanCenter
}

func NewScorer(cfg config.Scoring, centers []domain.UrbanCenter) *Scorer {
	return &Scorer{cfg: cfg, centers: centers}
}

// Score assesses one qualifying incident as of now.
func (s *Scorer) Score(inc domain.Incident, now time.Time) domain.VulnerabilityScore {
	score := domain.VulnerabilityScore{
		Source:        inc.Source,
		ExternalID:    inc.ExternalID,
		MinutesActive: inc.MinutesActive(now),
		ComputedAt:    now,
	}

	score.IsolationScore = s.isolationScore(inc, &score)
	score.ExposureScore = s.exposureScore(score.MinutesActive)
	score.NighttimeScore = s.nighttimeScore(now)
	score.RoadTypeScore = roadTypeScore(inc.RoadType)

	weightSum := s.cfg.WeightIsolation + s.cfg.WeightExposure +
		s.cfg.WeightNighttime + s.cfg.WeightRoadType
	total := (score.IsolationScore*s.cfg.WeightIsolation +
		score.ExposureScore*s.cfg.WeightExposure +
		score.NighttimeScore*s.cfg.WeightNighttime +
		score.RoadTypeScore*s.cfg.WeightRoadType) / weightSum
	score.TotalScore = clamp(total, 0, 100)
	score.RiskLevel = s.riskLevel(score.TotalScore)
	score.RiskFactors = s.riskFactors(score, inc)

	return score
}

// isolationScore scales linearly with distance to the nearest urban center,
// saturating at the configured radius. Incidents without coordinates get the
// neutral default rather than an extreme.
func (s *Scorer) isolationScore(inc domain.Incident, out *domain.VulnerabilityScore) float64 {
	if inc.Geometry == nil || len(s.centers) == 0 {
		return defaultIsolationScore
	}
	center, distKm, ok := domain.NearestCenter(inc.Geometry.Lat, inc.Geometry.Lon, s.centers)
	if !ok {
		return defaultIsolationScore
	}
	out.NearestCenter = &center.Name
	out.DistanceKm = &distKm
	return clamp(distKm/s.cfg.IsolationMaxKm, 0, 1) * 100
}

// exposureScore is zero up to the grace threshold, then climbs linearly to
// 100 at the saturation duration.
func (s *Scorer) exposureScore(minutes int) float64 {
	m := float64(minutes)
	if m <= s.cfg.ExposureThresholdMin {
		return 0
	}
	if m >= s.cfg.ExposureSaturationMin {
		return 100
	}
	return (m - s.cfg.ExposureThresholdMin) /
		(s.cfg.ExposureSaturationMin - s.cfg.ExposureThresholdMin) * 100
}

// nighttimeScore is a hard step: full contribution during local night hours,
// nothing otherwise. No dusk ramp.
func (s *Scorer) nighttimeScore(now time.Time) float64 {
	hour := now.In(s.cfg.Timezone).Hour()
	if hour >= nightStartHour || hour < nightEndHour {
		return 100
	}
	return 0
}

func roadTypeScore(rt *domain.RoadType) float64 {
	if rt == nil {
		return defaultRoadTypeScore
	}
	if v, ok := roadTypeScores[*rt]; ok {
		return v
	}
	return defaultRoadTypeScore
}

func (s *Scorer) riskLevel(total float64) domain.RiskLevel {
	switch {
	case total >= s.cfg.CriticalMin:
		return domain.RiskCritical
	case total >= s.cfg.HighMin:
		return domain.RiskHigh
	case total >= s.cfg.MediumMin:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

func (s *Scorer) riskFactors(score domain.VulnerabilityScore, inc domain.Incident) []string {
	factors := []string{}
	if score.IsolationScore >= isolationFactorMin {
		if score.DistanceKm != nil && score.NearestCenter != nil {
			factors = append(factors, fmt.Sprintf("isolated location, %.0f km from %s",
				*score.DistanceKm, *score.NearestCenter))
		} else {
			factors = append(factors, "isolated from populated areas")
		}
	}
	if score.MinutesActive >= exposureFactorMin {
		factors = append(factors, "active for over 2 hours")
	}
	if score.NighttimeScore > 0 {
		factors = append(factors, "nighttime hours")
	}
	if inc.RoadType != nil && *inc.RoadType == domain.RoadAutopista {
		factors = append(factors, "high-speed road, difficult access")
	}
	return factors
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
