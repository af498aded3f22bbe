package catalog

import (
	"log"
	"sort"
	"strconv"
	"strings"
)

// fuelWordCodes maps the fuel word that may appear after the year in a
// hyphenless entry to its numeric fuel-type code. The catalog only ever
// labels these three words; an unmapped word yields no fuel code.
var fuelWordCodes = map[string]string{
	"Gasolina": "1",
	"Álcool":   "2",
	"Diesel":   "3",
}

// parseYearEntries turns raw ConsultarAnoModelo entries into model years and
// the distinct fuel-type codes seen across them. Entry labels look like
// "2020 Gasolina" and values like "2020-1"; values without a hyphen fall
// back to the label's fuel word. Entries whose leading year token is not an
// integer are dropped with a warning.
func parseYearEntries(entries []labelValue, logger *log.Logger) ([]ModelYear, []string) {
	if logger == nil {
		logger = log.Default()
	}
	years := make([]ModelYear, 0, len(entries))
	fuelSet := make(map[string]struct{})

	for _, entry := range entries {
		label := entry.Label
		value := entry.value()

		fields := strings.Fields(label)
		yearToken := ""
		if len(fields) > 0 {
			yearToken = fields[0]
		}

		fuelCode := ""
		if idx := strings.LastIndex(value, "-"); idx >= 0 {
			fuelCode = value[idx+1:]
		} else if len(fields) > 1 {
			fuelCode = fuelWordCodes[fields[1]]
		}
		if fuelCode != "" {
			fuelSet[fuelCode] = struct{}{}
		}

		if _, err := strconv.Atoi(yearToken); err != nil {
			logger.Printf("catalog: ignoring invalid year label %q", label)
			continue
		}
		years = append(years, ModelYear{YearModel: yearToken, Label: label})
	}

	fuels := make([]string, 0, len(fuelSet))
	for code := range fuelSet {
		fuels = append(fuels, code)
	}
	sort.Strings(fuels)
	return years, fuels
}
