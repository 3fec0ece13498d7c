package scoring

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/roadwatch/incident-etl/internal/domain"
)

//go:embed centers.json
var defaultCenters []byte

// LoadCenters reads the urban centers reference set. An empty path loads
// the embedded default set of Spanish provincial capitals and major cities.
func LoadCenters(path string) ([]domain.UrbanCenter, error) {
	raw := defaultCenters
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading urban centers file: %w", err)
		}
		raw = b
	}

	var centers []domain.UrbanCenter
	if err := json.Unmarshal(raw, &centers); err != nil {
		return nil, fmt.Errorf("parsing urban centers: %w", err)
	}
	if len(centers) == 0 {
		return nil, fmt.Errorf("urban centers set is empty")
	}
	for _, c := range centers {
		if c.Name == "" {
			return nil, fmt.Errorf("urban center with empty name")
		}
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return nil, fmt.Errorf("urban center %s has out-of-range coordinates", c.Name)
		}
	}
	return centers, nil
}
