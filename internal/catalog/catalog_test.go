package catalog

import "testing"

func TestEligibleAt(t *testing.T) {
	tests := []struct {
		name     string
		model    Model
		lat, lon float64
		want     bool
	}{
		{"global model anywhere", Model{Key: "gfs_seamless"}, -36.8, 146.9, true},
		{"regional model inside box", Model{Key: "icon_d2", Region: centralEurope}, 47.3, 11.4, true},
		{"regional model outside box", Model{Key: "icon_d2", Region: centralEurope}, 39.7, -104.9, false},
		{"hrrr inside conus", Model{Key: "gfs_hrrr", Region: conus}, 39.7, -104.9, true},
		{"hrrr outside conus", Model{Key: "gfs_hrrr", Region: conus}, 59.9, 10.7, false},
		{"nordic model in oslo", Model{Key: "metno_nordic", Region: nordics}, 59.9, 10.7, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.model.EligibleAt(tt.lat, tt.lon); got != tt.want {
				t.Errorf("EligibleAt(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestEligibleSplitsCatalog(t *testing.T) {
	// Sapporo: none of the regional models cover Japan.
	eligible, skipped := Eligible(Default(), 43.06, 141.35)

	for _, m := range eligible {
		if m.Region != nil {
			t.Errorf("regional model %s should not be eligible in Sapporo", m.Key)
		}
	}
	wantSkipped := map[string]bool{
		"icon_d2":                    true,
		"gfs_hrrr":                   true,
		"metno_nordic":               true,
		"knmi_harmonie_arome_europe": true,
	}
	if len(skipped) != len(wantSkipped) {
		t.Fatalf("skipped = %v, want the %d regional models", skipped, len(wantSkipped))
	}
	for _, key := range skipped {
		if !wantSkipped[key] {
			t.Errorf("unexpected skipped model %s", key)
		}
	}
}

func TestDefaultCatalogShape(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Default() {
		if seen[m.Key] {
			t.Errorf("duplicate model key %s", m.Key)
		}
		seen[m.Key] = true
		if m.Endpoint == "" {
			t.Errorf("model %s has no endpoint", m.Key)
		}
		if m.HorizonDays <= 0 {
			t.Errorf("model %s has no horizon cap", m.Key)
		}
		if len(m.HourlyParams) == 0 {
			t.Errorf("model %s has no hourly params", m.Key)
		}
	}
	if seen[MedianKey] {
		t.Errorf("catalog must not contain the derived %s model", MedianKey)
	}
}
