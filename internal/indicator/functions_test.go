package indicator

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	got := SMA(prices, 3)
	want := []float64{math.NaN(), math.NaN(), 2, 3, 4}
	for i := range want {
		if math.IsNaN(want[i]) {
			if !math.IsNaN(got[i]) {
				t.Fatalf("index %d: want NaN, got %v", i, got[i])
			}
			continue
		}
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Fatalf("index %d: want %v, got %v", i, want[i], got[i])
		}
	}
}

func TestRSIWilderAllGainsIs100(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(i + 1)
	}
	rsi := RSI(prices, 14)
	last := rsi[len(rsi)-1]
	if math.Abs(last-100) > 1e-9 {
		t.Fatalf("expected RSI of 100 for a strictly increasing series, got %v", last)
	}
}

func TestRSIFlatSeriesIsNeutral(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = 100
	}
	rsi := RSI(prices, 14)
	last := rsi[len(rsi)-1]
	if math.Abs(last-50) > 1e-9 {
		t.Fatalf("expected RSI of 50 for a flat series, got %v", last)
	}
}

func TestMACDSignalIsEMAOfMACDNotAFixedFraction(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100 + float64(i)*0.5
	}
	macdLine, signalLine, histogram := MACD(prices, 12, 26, 9)
	last := len(prices) - 1
	if math.IsNaN(signalLine[last]) {
		t.Fatalf("expected a defined signal line by the end of a 60-bar series")
	}
	if math.Abs(signalLine[last]-macdLine[last]*0.9) < 1e-6 {
		t.Fatalf("signal line looks like the teacher's `macd*0.9` stub, not an EMA of MACD")
	}
	if math.Abs(histogram[last]-(macdLine[last]-signalLine[last])) > 1e-9 {
		t.Fatalf("histogram must equal macd - signal")
	}
}

func TestBollingerBandsEnvelopeMiddle(t *testing.T) {
	prices := []float64{10, 11, 9, 12, 8, 13, 10, 11, 9, 12, 14, 7, 13, 10, 11, 12, 9, 10, 13, 11}
	upper, middle, lower := Bollinger(prices, 20, 2)
	last := len(prices) - 1
	if !(lower[last] < middle[last] && middle[last] < upper[last]) {
		t.Fatalf("expected lower < middle < upper, got %v < %v < %v", lower[last], middle[last], upper[last])
	}
}

func TestVolumeRatioAboveOneOnSpike(t *testing.T) {
	volumes := make([]float64, 25)
	for i := range volumes {
		volumes[i] = 1000
	}
	volumes[len(volumes)-1] = 5000
	ratio := VolumeRatio(volumes, 20)
	last := ratio[len(ratio)-1]
	if last <= 1.0 {
		t.Fatalf("expected volume ratio > 1 on a spike, got %v", last)
	}
}
