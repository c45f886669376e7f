package internaldefs

import (
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
)

func TestDefsCoverEveryMetricOnce(t *testing.T) {
	seen := map[authcore.MetricID]bool{}
	names := map[string]bool{}
	for _, def := range CounterDefs {
		if authcore.IsHistogramMetric(def.ID) {
			t.Fatalf("%s is a histogram id listed as counter", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
		if !strings.HasPrefix(def.Name, "authcore_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("counter %q breaks naming convention", def.Name)
		}
	}
	for _, def := range HistogramDefs {
		if !authcore.IsHistogramMetric(def.ID) {
			t.Fatalf("%s is a counter id listed as histogram", def.Name)
		}
		seen[def.ID] = true
		names[def.Name] = true
	}
	if len(seen) != authcore.MetricIDCount {
		t.Fatalf("expected %d metric ids covered, got %d", authcore.MetricIDCount, len(seen))
	}
	if len(names) != authcore.MetricIDCount {
		t.Fatalf("metric names are not unique")
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [authcore.HistogramBucketCount]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
