// Command scdetect-go is a minimal demonstration harness for the detection
// engine: it loads a DetectorConfig, builds one synthetic template/arrival
// pair, and streams canned records into a Detector at a simulated real-time
// pace, printing every emitted Detection. It exists to exercise the core
// package wiring end to end; it does not implement catalog/inventory
// parsing, a record-stream transport, or output serialization.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/config"
	"github.com/scdetect/scdetect-go/internal/seismic/detector"
	"github.com/scdetect/scdetect-go/internal/seismic/filter"
	"github.com/scdetect/scdetect-go/internal/seismic/model"
	"github.com/scdetect/scdetect-go/internal/timeutil"
)

var (
	configPath = flag.String("config", "", "path to a DetectorConfig JSON file (optional, uses built-in defaults when empty)")
	rate       = flag.Float64("rate", 100, "simulated sampling frequency in Hz for the demo stream")
)

var demoStream = model.WaveformStreamID{NetworkCode: "XX", StationCode: "DEMO", ChannelCode: "HHZ"}

// sineBurst synthesizes n samples of a frequency-Hz sine wave at
// samplingFrequency Hz, the same toy waveform shape used across this
// module's package tests.
func sineBurst(n int, samplingFrequency, frequency float64) []float64 {
	samples := make([]float64, n)
	for i := range samples {
		t := float64(i) / samplingFrequency
		samples[i] = math.Sin(2 * math.Pi * frequency * t)
	}
	return samples
}

func loadConfig() config.DetectorConfig {
	if *configPath == "" {
		return config.DefaultDetectorConfig()
	}
	cfg, err := config.LoadDetectorConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load detector config: %v", err)
	}
	return *cfg
}

func main() {
	flag.Parse()

	cfg := loadConfig()
	cfg.TriggerThreshold = 0.8

	base := time.Now().UTC()
	templateSamples := sineBurst(200, *rate, 4)
	rawTemplate := model.TemplateWaveform{
		ID:                "demo-template",
		StreamID:          demoStream,
		Samples:           templateSamples,
		SamplingFrequency: *rate,
		StartTime:         base,
		ReferencePickTime: base,
	}
	template, err := model.Build(rawTemplate, model.BuildConfig{
		Demean:                  true,
		TargetSamplingFrequency: cfg.TargetSamplingFrequency,
		FilterString:            cfg.FilterString,
		FilterFactory:           filter.DefaultFactory{},
	})
	if err != nil {
		log.Fatalf("failed to build template: %v", err)
	}
	arrival := model.Arrival{
		Pick:    model.Pick{Time: base, WaveformStreamID: demoStream, Phase: model.Phase("P")},
		Weight:  1,
		Enabled: true,
	}

	d, err := detector.New(cfg, filter.DefaultFactory{}, timeutil.RealClock{}, []detector.TemplateSubscription{
		{ProcessorID: "demo-template", Template: template, Arrival: arrival},
	})
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}

	d.SetDetectionCallback(func(det model.Detection) {
		out, err := json.Marshal(det)
		if err != nil {
			log.Printf("failed to marshal detection: %v", err)
			return
		}
		log.Printf("detection: %s", out)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the demo stream: template burst, then silence, repeating at the
	// configured sampling frequency until interrupted.
	recordLen := 200
	noise := make([]float64, recordLen)
	chunks := [][]float64{templateSamples, noise, noise}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := base
		ticker := time.NewTicker(time.Duration(float64(recordLen) / *rate * float64(time.Second)))
		defer ticker.Stop()

		for i := 0; ; i = (i + 1) % len(chunks) {
			select {
			case <-ctx.Done():
				log.Print("demo stream terminated")
				return
			case <-ticker.C:
				rec := model.Record{
					StreamID:          demoStream,
					StartTime:         t,
					SamplingFrequency: *rate,
					Samples:           chunks[i],
				}
				d.Feed(rec)
				t = rec.EndTime()
			}
		}
	}()

	<-ctx.Done()
	d.Terminate()
	wg.Wait()

	os.Exit(0)
}
