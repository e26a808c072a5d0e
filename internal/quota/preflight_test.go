package quota

import "testing"

type fixedSource struct {
	est StorageEstimate
	err error
}

func (f fixedSource) Estimate() (StorageEstimate, error) { return f.est, f.err }

func TestMarginClampedToRange(t *testing.T) {
	cases := []struct {
		sizeBytes int64
		want      int64
	}{
		{sizeBytes: 100 * 1024 * 1024, want: minMarginBytes},     // 10% is 10MiB < 200MiB floor
		{sizeBytes: 3 * 1024 * 1024 * 1024, want: 3 * 1024 * 1024 * 1024 / 10}, // 10% of 3GiB = ~300MiB, still under max
		{sizeBytes: 10 * 1024 * 1024 * 1024, want: maxMarginBytes}, // 10% of 10GiB = 1GiB, clamp to 500MiB
	}
	for _, c := range cases {
		got := Margin(c.sizeBytes)
		if c.sizeBytes == 3*1024*1024*1024 {
			want := int64(float64(c.sizeBytes) * 0.10)
			if got != want {
				t.Errorf("Margin(%d) = %d, want %d", c.sizeBytes, got, want)
			}
			continue
		}
		if got != c.want {
			t.Errorf("Margin(%d) = %d, want %d", c.sizeBytes, got, c.want)
		}
	}
}

func TestCheckUnsupportedIsOptimistic(t *testing.T) {
	src := fixedSource{est: StorageEstimate{Supported: false}}
	res, err := Check(src, 1024*1024*1024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK || !res.Unsupported {
		t.Fatalf("expected optimistic ok=true with Unsupported flagged, got %+v", res)
	}
}

func TestCheckSufficientQuota(t *testing.T) {
	modelSize := int64(1 * 1024 * 1024 * 1024) // 1 GiB
	required := RequiredBytes(modelSize)
	src := fixedSource{est: StorageEstimate{
		Supported:  true,
		QuotaBytes: required + 1,
		UsageBytes: 0,
	}}
	res, err := Check(src, modelSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected ok=true when available exceeds required")
	}
}

func TestCheckInsufficientQuota(t *testing.T) {
	modelSize := int64(1 * 1024 * 1024 * 1024)
	required := RequiredBytes(modelSize)
	src := fixedSource{est: StorageEstimate{
		Supported:  true,
		QuotaBytes: required - 1,
		UsageBytes: 0,
	}}
	res, err := Check(src, modelSize)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OK {
		t.Fatalf("expected ok=false when available is less than required")
	}
}
