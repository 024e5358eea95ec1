package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/signalsfoundry/arhunt/core"
	"github.com/signalsfoundry/arhunt/internal/events"
	"github.com/signalsfoundry/arhunt/internal/logging"
	"github.com/signalsfoundry/arhunt/internal/session"
	"github.com/signalsfoundry/arhunt/internal/store"
	"github.com/signalsfoundry/arhunt/model"
	"github.com/signalsfoundry/arhunt/timectrl"
)

// scenario describes one scripted walk.
type scenario struct {
	Duration    time.Duration
	Tick        time.Duration
	Accelerated bool
	Origin      model.GeoPoint
	SpeedMps    float64
	HeadingDeg  float64
	Schedule    []core.AccuracyStep
	// OnPath candidates lie on the walking line and get auto-discovered;
	// OffPath ones sit 6m to the side.
	OnPath  int
	OffPath int
	Spacing float64
	Source  core.CandidateSource
}

// summary is what happened during a run.
type summary struct {
	Ticks      int
	FinalState model.FrameState
	Placed     int
	Entered    int
	Discovered int
	Removed    int
	Rejected   int
	Live       []string
}

// defaultSchedule delivers an accurate fix from the first tick so the origin
// matches the walk's starting point.
func defaultSchedule() []core.AccuracyStep {
	return []core.AccuracyStep{{After: 0, Accuracy: 4}}
}

func main() {
	duration := flag.Duration("duration", 45*time.Second, "total walk duration")
	tick := flag.Duration("tick", 100*time.Millisecond, "tick interval")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	speed := flag.Float64("speed", 1.4, "walking speed in m/s")
	heading := flag.Float64("heading", 0, "walking heading in degrees clockwise from north")
	onPath := flag.Int("on-path", 3, "candidates placed on the walking line")
	offPath := flag.Int("off-path", 2, "candidates placed beside the walking line")
	poorGPS := flag.Bool("poor-gps", false, "never deliver an accurate fix, forcing degraded mode")
	dbPath := flag.String("db", "", "optional SQLite path; candidates persist across runs")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	sc := scenario{
		Duration:    *duration,
		Tick:        *tick,
		Accelerated: *accelerated,
		Origin:      model.NewGeoPoint(47.6205, -122.3493, 0),
		SpeedMps:    *speed,
		HeadingDeg:  *heading,
		Schedule:    defaultSchedule(),
		OnPath:      *onPath,
		OffPath:     *offPath,
		Spacing:     10,
	}
	if *poorGPS {
		sc.Schedule = []core.AccuracyStep{{After: 0, Accuracy: 15}}
	}
	if *dbPath != "" {
		st, err := store.Open(ctx, *dbPath, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()
		sc.Source = st
	}

	res, err := simulate(ctx, sc, log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Walk complete: ticks=%d frame=%s placed=%d entered=%d discovered=%d removed=%d rejected=%d live=%v\n",
		res.Ticks, res.FinalState, res.Placed, res.Entered, res.Discovered, res.Removed, res.Rejected, res.Live)
}

// candidates lays out the scripted hunt around the walk's start.
func candidates(sc scenario) []model.PlacementCandidate {
	var out []model.PlacementCandidate
	kinds := []model.ObjectKind{model.KindChest, model.KindChalice, model.KindSphere, model.KindRelic}
	for i := 0; i < sc.OnPath; i++ {
		out = append(out, model.PlacementCandidate{
			ID:        fmt.Sprintf("path-%02d", i+1),
			Kind:      kinds[i%len(kinds)],
			Name:      fmt.Sprintf("Path treasure %d", i+1),
			Target:    core.Offset(sc.Origin, sc.HeadingDeg, sc.Spacing*float64(i+1)),
			HasTarget: true,
		})
	}
	for i := 0; i < sc.OffPath; i++ {
		along := core.Offset(sc.Origin, sc.HeadingDeg, sc.Spacing*float64(i+1)+sc.Spacing/2)
		out = append(out, model.PlacementCandidate{
			ID:        fmt.Sprintf("side-%02d", i+1),
			Kind:      model.KindCube,
			Name:      fmt.Sprintf("Side cache %d", i+1),
			Target:    core.Offset(along, sc.HeadingDeg+90, 6),
			HasTarget: true,
		})
	}
	return out
}

func simulate(ctx context.Context, sc scenario, log logging.Logger, out io.Writer) (summary, error) {
	if out == nil {
		out = io.Discard
	}
	cands := candidates(sc)
	source := sc.Source
	if source == nil {
		source = core.NewMemorySource(cands...)
	} else if up, ok := source.(session.Upserter); ok {
		for _, c := range cands {
			if err := up.Upsert(ctx, c); err != nil {
				return summary{}, err
			}
		}
	}

	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	bus := events.NewBus()
	var res summary
	bus.Subscribe(func(e events.Event) {
		stamp := e.EventTime().Sub(start).Round(time.Millisecond)
		switch ev := e.(type) {
		case events.FrameChanged:
			fmt.Fprintf(out, "[%8s] frame %s -> %s origin=%v\n", stamp, ev.From, ev.To, ev.Frame.HasOrigin)
		case events.ObjectPlaced:
			res.Placed++
			p := ev.Object.Position
			fmt.Fprintf(out, "[%8s] placed %-8s at (%.1f, %.1f, %.1f)\n", stamp, ev.Object.ID, p.X, p.Y, p.Z)
		case events.ObjectEnteredView:
			res.Entered++
			fmt.Fprintf(out, "[%8s] in view %s\n", stamp, ev.ObjectID)
		case events.ObjectDiscovered:
			res.Discovered++
			fmt.Fprintf(out, "[%8s] discovered %s auto=%v\n", stamp, ev.ObjectID, ev.Auto)
		case events.ObjectRemoved:
			res.Removed++
			fmt.Fprintf(out, "[%8s] removed %s (%s)\n", stamp, ev.ObjectID, ev.Reason)
		case events.PlacementRejected:
			res.Rejected++
		}
	})

	mode := timectrl.RealTime
	if sc.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(start, sc.Tick, mode)

	sess := session.New(session.DefaultConfig(), session.Deps{
		Surface:  core.FlatSurface{Height: 0},
		Renderer: core.NewRecordingRenderer(),
		Effect:   &core.InstantEffect{},
		Source:   source,
		Pose:     core.NewPoseProvider(start, sc.Origin, sc.SpeedMps, sc.HeadingDeg, sc.Schedule),
		Bus:      bus,
		Log:      log,
	})

	// Ticks run on the controller goroutine; the session is used synchronously.
	tc.AddListener(func(now time.Time) {
		sess.Tick(ctx, now)
		res.Ticks++
	})

	fmt.Fprintf(out, "Starting walk: duration=%s, tick=%s, mode=%v, candidates=%d\n", sc.Duration, sc.Tick, mode, len(cands))
	stop := make(chan struct{})
	done := tc.Start(sc.Duration, stop)
	select {
	case <-done:
	case <-ctx.Done():
		close(stop)
		<-done
		return summary{}, ctx.Err()
	}

	res.FinalState = sess.Snapshot().Frame.State
	for _, o := range sess.Objects() {
		res.Live = append(res.Live, o.ID)
	}
	return res, nil
}
