package executor_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesleyorama2/stampede/internal/load"
	"github.com/wesleyorama2/stampede/internal/load/executor"
	"github.com/wesleyorama2/stampede/internal/load/metrics"
)

func TestRampingVUs_Init(t *testing.T) {
	tests := []struct {
		name    string
		config  *executor.Config
		wantErr bool
	}{
		{
			name: "valid",
			config: &executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{
				{Duration: 5 * time.Second, Target: 50},
				{Duration: 5 * time.Second, Target: 100},
				{Duration: 5 * time.Second, Target: 0},
			}},
		},
		{name: "no stages", config: &executor.Config{Type: executor.TypeRampingVUs}, wantErr: true},
		{
			name:    "negative target",
			config:  &executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Duration: time.Second, Target: -1}}},
			wantErr: true,
		},
		{
			name:    "zero total duration",
			config:  &executor.Config{Type: executor.TypeRampingVUs, Stages: []executor.Stage{{Duration: 0, Target: 10}}},
			wantErr: true,
		},
		{
			name:    "negative start VUs",
			config:  &executor.Config{Type: executor.TypeRampingVUs, StartVUs: -1, Stages: []executor.Stage{{Duration: time.Second, Target: 1}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := executor.NewRampingVUs().Init(context.Background(), tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("Init() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// liveProbe samples the number of live VUs while the executor runs.
func liveProbe(scheduler *load.VUScheduler, stop <-chan struct{}) *atomic.Int64 {
	var peak atomic.Int64
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := int64(scheduler.GetActiveVUCount()); n > peak.Load() {
					peak.Store(n)
				}
			}
		}
	}()
	return &peak
}

func TestRampingVUs_NeverExceedsTarget(t *testing.T) {
	probe := &concurrencyProbe{hold: 20 * time.Millisecond}
	scheduler, reg := newTestScheduler(t, probe, 0)

	e := executor.NewRampingVUs()
	if err := e.Init(context.Background(), &executor.Config{
		Name: "stress",
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 400 * time.Millisecond, Target: 50},
			{Duration: 400 * time.Millisecond, Target: 100},
			{Duration: 400 * time.Millisecond, Target: 0},
		},
	}); err != nil {
		t.Fatal(err)
	}

	stop := make(chan struct{})
	sampled := liveProbe(scheduler, stop)

	err := runWithTimeout(t, 10*time.Second, func() error {
		return e.Run(context.Background(), scheduler, reg)
	})
	close(stop)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if peak := scheduler.PeakVUs(); peak > 100 {
		t.Errorf("PeakVUs() = %d, want <= 100", peak)
	}
	if peak := sampled.Load(); peak > 100 {
		t.Errorf("sampled live VUs = %d, want <= 100", peak)
	}
	if peak := probe.peak.Load(); peak > 100 {
		t.Errorf("concurrent iterations = %d, want <= 100", peak)
	}
	if peak := scheduler.PeakVUs(); peak < 60 {
		t.Errorf("PeakVUs() = %d, the ramp never got close to 100", peak)
	}
	if e.GetActiveVUs() != 0 {
		t.Errorf("GetActiveVUs() = %d after Run, want 0", e.GetActiveVUs())
	}
	if failed := summary(t, reg, metrics.IterationFailed); failed.Rate != 0 {
		t.Errorf("iteration_failed rate = %v, want 0", failed.Rate)
	}
}

func TestRampingVUs_GetStats(t *testing.T) {
	scheduler, reg := newTestScheduler(t, sleepWork(5*time.Millisecond), 0)

	e := executor.NewRampingVUs()
	if err := e.Init(context.Background(), &executor.Config{
		Type:     executor.TypeRampingVUs,
		StartVUs: 2,
		Stages: []executor.Stage{
			{Duration: 150 * time.Millisecond, Target: 2, Name: "hold"},
			{Duration: 150 * time.Millisecond, Target: 0, Name: "down"},
		},
	}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), scheduler, reg) }()

	time.Sleep(60 * time.Millisecond)
	stats := e.GetStats()
	if stats.CurrentStageName != "hold" || stats.TotalStages != 2 {
		t.Errorf("stage = %q of %d, want hold of 2", stats.CurrentStageName, stats.TotalStages)
	}
	if stats.TargetVUs != 2 {
		t.Errorf("TargetVUs = %d, want 2", stats.TargetVUs)
	}

	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
