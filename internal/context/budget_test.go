package context

import "testing"

func TestBudgetFor(t *testing.T) {
	tests := []struct {
		window   int
		fraction float64
		want     int
	}{
		{200000, 0.3, 60000},
		{128000, 0.3, 38400},
		{32768, 0.3, 9830},
		{10000, 0.5, 5000},
		{10000, 0, 3000},   // invalid fraction falls back to default
		{10000, 1.5, 3000}, // over 1 falls back to default
		{0, 0.3, 0},
		{-5, 0.3, 0},
	}
	for _, tt := range tests {
		if got := BudgetFor(tt.window, tt.fraction); got != tt.want {
			t.Errorf("BudgetFor(%d, %f) = %d, want %d", tt.window, tt.fraction, got, tt.want)
		}
	}
}
