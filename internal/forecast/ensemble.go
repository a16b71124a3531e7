package forecast

import (
	"math"
	"sort"
	"time"

	"github.com/kentwelham/gradecast/internal/catalog"
)

// Ensemble derives the synthetic median series from the real model series
// for one location and view. The result covers the union of timestamps
// any real model reported; a timestamp with zero contributors across all
// metrics is dropped rather than emitted as a hole. Hourly medians get
// their precipitation type re-classified from the median rain and snow
// values, never majority-voted from the members.
func Ensemble(all []Series, view View) Series {
	byTime := make(map[time.Time]map[string][]float64)
	for _, s := range all {
		if s.Derived {
			continue
		}
		for _, p := range s.Points {
			metrics := byTime[p.Time]
			if metrics == nil {
				metrics = make(map[string][]float64)
				byTime[p.Time] = metrics
			}
			for metric, v := range p.Values {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				metrics[metric] = append(metrics[metric], v)
			}
		}
	}

	times := make([]time.Time, 0, len(byTime))
	for ts := range byTime {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	points := make([]Point, 0, len(times))
	for _, ts := range times {
		values := make(map[string]float64, len(byTime[ts]))
		for metric, samples := range byTime[ts] {
			values[metric] = median(samples)
		}
		if len(values) == 0 {
			continue
		}
		p := Point{Time: ts, Values: values}
		if view == ViewHourly {
			p.PrecipType = ClassifyPrecipitation(values[MetricRain], values[MetricSnowfall])
		}
		points = append(points, p)
	}

	return Series{ModelKey: catalog.MedianKey, View: view, Derived: true, Points: points}
}

// median returns the statistical median of samples, averaging the two
// middle values on even counts. The slice is sorted in place.
func median(samples []float64) float64 {
	sort.Float64s(samples)
	n := len(samples)
	if n%2 == 1 {
		return samples[n/2]
	}
	return (samples[n/2-1] + samples[n/2]) / 2
}
