package forecast

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// metricAliases maps canonical metrics to the alternate spellings some
// upstreams still publish (the concatenated wind-field scheme and the
// unseparated cloud cover key).
var metricAliases = map[string][]string{
	MetricWindSpeed:     {"windspeed_10m"},
	MetricWindDirection: {"winddirection_10m"},
	MetricWindGusts:     {"windgusts_10m"},
	MetricCloudCover:    {"cloudcover"},
}

// statSuffixes are the statistical variants daily blocks append to a
// base metric. The empty suffix covers the hourly fields themselves.
var statSuffixes = []string{"", "_max", "_min", "_mean", "_sum", "_dominant", "_p10", "_p25", "_p75", "_p90"}

var (
	aliasIndex = buildAliasIndex()
	vocabulary = buildVocabulary()
)

func buildAliasIndex() map[string]string {
	idx := make(map[string]string)
	for canonical, aliases := range metricAliases {
		for _, alias := range aliases {
			for _, suffix := range statSuffixes {
				idx[alias+suffix] = canonical + suffix
			}
		}
	}
	return idx
}

func buildVocabulary() map[string]bool {
	bases := []string{
		MetricTemperature, MetricPrecipitation, MetricRain, MetricSnowfall,
		MetricWindSpeed, MetricWindDirection, MetricWindGusts,
		MetricCloudCover, MetricVisibility,
	}
	vocab := make(map[string]bool)
	for _, base := range bases {
		for _, suffix := range statSuffixes {
			vocab[base+suffix] = true
		}
	}
	return vocab
}

// CanonicalMetric maps a source field name onto the canonical vocabulary,
// covering every statistical-suffix variant of each alias. Unknown names
// pass through unchanged.
func CanonicalMetric(key string) string {
	if canonical, ok := aliasIndex[key]; ok {
		return canonical
	}
	return key
}

// Normalize converts one model's raw response body into the canonical
// series shape for the requested view. Errors are per-model parse
// failures for the caller to record; they carry no partial series.
func Normalize(modelKey string, body []byte, view View) (Series, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return Series{}, fmt.Errorf("decode response: %w", err)
	}

	data, units, found, err := viewBlocks(top, view)
	if err != nil {
		return Series{}, err
	}
	if !found {
		// Some endpoints nest the blocks one level down under the
		// model's own key.
		if nested, ok := top[modelKey]; ok {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(nested, &inner); err != nil {
				return Series{}, fmt.Errorf("decode %s block: %w", modelKey, err)
			}
			data, units, found, err = viewBlocks(inner, view)
			if err != nil {
				return Series{}, err
			}
		}
	}
	if !found {
		return Series{}, fmt.Errorf("response has no %s data", view)
	}
	if data == nil {
		// A units block with no data block is an empty series.
		return Series{ModelKey: modelKey, View: view}, nil
	}

	times, err := parseBlockTimes(data["time"], view)
	if err != nil {
		return Series{}, err
	}

	columns := make(map[string][]*float64)
	unitOf := make(map[string]string)
	for key, raw := range data {
		if key == "time" {
			continue
		}
		canonical := CanonicalMetric(key)
		if !vocabulary[canonical] {
			continue
		}
		var col []*float64
		if err := json.Unmarshal(raw, &col); err != nil {
			// Non-numeric columns are outside the vocabulary anyway.
			continue
		}
		columns[canonical] = col
		unitOf[canonical] = units[key]
	}

	points := make([]Point, 0, len(times))
	for i, ts := range times {
		values := make(map[string]float64)
		for metric, col := range columns {
			if i >= len(col) || col[i] == nil {
				continue
			}
			v := *col[i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			values[metric] = toCanonical(metric, v, unitOf[metric])
		}
		if _, ok := values[MetricPrecipitation]; !ok {
			// Derive the total from the phases; snowfall is already
			// liquid-equivalent by now.
			rain, hasRain := values[MetricRain]
			snow, hasSnow := values[MetricSnowfall]
			if hasRain || hasSnow {
				values[MetricPrecipitation] = rain + snow
			}
		}
		if len(values) == 0 {
			// Hours past the model's horizon come back as all nulls.
			continue
		}
		p := Point{Time: ts, Values: values}
		if view == ViewHourly {
			p.PrecipType = ClassifyPrecipitation(values[MetricRain], values[MetricSnowfall])
		}
		points = append(points, p)
	}

	return Series{ModelKey: modelKey, View: view, Points: points}, nil
}

// viewBlocks pulls the data and units objects for the view out of obj.
// Either block alone marks the view as present; absence of both is the
// not-found case the caller escalates.
func viewBlocks(obj map[string]json.RawMessage, view View) (data map[string]json.RawMessage, units map[string]string, found bool, err error) {
	if raw, ok := obj[string(view)]; ok {
		found = true
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, nil, true, fmt.Errorf("decode %s block: %w", view, err)
		}
	}
	if raw, ok := obj[string(view)+"_units"]; ok {
		found = true
		if err := json.Unmarshal(raw, &units); err != nil {
			return nil, nil, true, fmt.Errorf("decode %s units: %w", view, err)
		}
	}
	return data, units, found, nil
}

func parseBlockTimes(raw json.RawMessage, view View) ([]time.Time, error) {
	if raw == nil {
		return nil, fmt.Errorf("%s block has no time axis", view)
	}
	var stamps []string
	if err := json.Unmarshal(raw, &stamps); err != nil {
		return nil, fmt.Errorf("decode time axis: %w", err)
	}

	layout := "2006-01-02T15:04"
	if view == ViewDaily {
		layout = "2006-01-02"
	}
	times := make([]time.Time, len(stamps))
	for i, s := range stamps {
		t, err := time.Parse(layout, s)
		if err != nil {
			t, err = time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, fmt.Errorf("parse time %q: %w", s, err)
			}
		}
		t = t.UTC()
		if view == ViewHourly {
			t = t.Truncate(time.Hour)
		}
		times[i] = t
	}
	return times, nil
}

// snowToLiquid converts snow depth in cm to liquid-equivalent mm.
const snowToLiquid = 10.0 / 7.0

// toCanonical converts a value into canonical units, driven by the units
// block with the upstream defaults (visibility in metres, snowfall in cm
// of depth) as fallback.
func toCanonical(metric string, value float64, unit string) float64 {
	switch baseMetric(metric) {
	case MetricVisibility:
		if unit == "km" {
			return value
		}
		return value / 1000
	case MetricSnowfall:
		if unit == "mm" {
			return value
		}
		return value * snowToLiquid
	}
	return value
}

func baseMetric(metric string) string {
	for _, suffix := range statSuffixes[1:] {
		if strings.HasSuffix(metric, suffix) {
			return strings.TrimSuffix(metric, suffix)
		}
	}
	return metric
}
