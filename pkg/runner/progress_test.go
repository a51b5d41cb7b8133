package runner

import "testing"

func TestProgressTrackerParsesEpochLines(t *testing.T) {
	tests := []struct {
		name      string
		lines     []string
		wantLast  int
		wantTotal int
	}{
		{
			name:      "no progress lines",
			lines:     []string{"Model summary: 283 layers", "Optimizer stripped"},
			wantLast:  -1,
			wantTotal: 0,
		},
		{
			name: "typical epoch header",
			lines: []string{
				"     Epoch   gpu_mem       box       obj",
				"     0/299     7.27G   0.04461   0.06093",
				"     1/299     7.27G   0.04204   0.05924",
			},
			wantLast:  1,
			wantTotal: 300,
		},
		{
			name: "repeated epoch does not regress",
			lines: []string{
				"     5/9     3.1G   0.05",
				"     5/9     3.1G   0.05",
				"     4/9     3.1G   0.05",
			},
			wantLast:  5,
			wantTotal: 10,
		},
		{
			name:      "malformed fraction ignored",
			lines:     []string{"     7/3     bad line"},
			wantLast:  -1,
			wantTotal: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProgressTracker(nil)
			for _, line := range tt.lines {
				p.Observe(line)
			}
			if got := p.Last(); got != tt.wantLast {
				t.Errorf("Last() = %d, want %d", got, tt.wantLast)
			}
			if got := p.Total(); got != tt.wantTotal {
				t.Errorf("Total() = %d, want %d", got, tt.wantTotal)
			}
		})
	}
}

func TestProgressTrackerNotifies(t *testing.T) {
	var calls [][2]int
	p := newProgressTracker(func(epoch, total int) {
		calls = append(calls, [2]int{epoch, total})
	})

	p.Observe("     0/9     3.1G   0.05")
	p.Observe("     0/9     3.1G   0.05") // same epoch, no callback
	p.Observe("     1/9     3.1G   0.05")

	if len(calls) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(calls))
	}
	if calls[0] != [2]int{0, 10} || calls[1] != [2]int{1, 10} {
		t.Errorf("unexpected callback values: %v", calls)
	}
}
