package forecast

// PrecipType classifies an hour's precipitation phase.
type PrecipType string

const (
	PrecipNone  PrecipType = "none"
	PrecipRain  PrecipType = "rain"
	PrecipMixed PrecipType = "mixed"
	PrecipSnow  PrecipType = "snow"
)

// presenceThreshold is the liquid-equivalent depth in mm up to which an
// hour's rain or snow counts as absent.
const presenceThreshold = 0.05

// ClassifyPrecipitation buckets an hour by which phases exceed the
// presence threshold. Both inputs are liquid-equivalent mm.
func ClassifyPrecipitation(rainMM, snowMM float64) PrecipType {
	rain := rainMM > presenceThreshold
	snow := snowMM > presenceThreshold
	switch {
	case rain && snow:
		return PrecipMixed
	case rain:
		return PrecipRain
	case snow:
		return PrecipSnow
	default:
		return PrecipNone
	}
}
