package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ivlev/pupilstim/internal/biosignal"
	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/engine"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
	"github.com/ivlev/pupilstim/internal/protocol"
	"github.com/ivlev/pupilstim/internal/stream"
	"github.com/ivlev/pupilstim/internal/system"
)

var (
	planPath  string
	timeScale float64
	outDir    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a stimulation session",
	Long: `Run builds the plan (or loads an exported one), presents it on the
headless canvas and records EventStream and PupilData into a new session
directory under output_dir. Ctrl+C aborts the run; the abort is recorded
as a terminal marker.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if timeScale > 0 {
		cfg.Runtime.TimeScale = timeScale
	}
	if outDir != "" {
		cfg.Runtime.OutputDir = outDir
	}
	if err := cfg.Runtime.Validate(); err != nil {
		return fmt.Errorf("%w: %w", protocol.ErrConfiguration, err)
	}

	plan, err := resolvePlan(cmd.OutOrStdout(), cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := system.Describe(ctx)
	if err != nil {
		logger.Warn("incomplete host description", zap.Error(err))
	}
	logger.Info("host", host.Fields()...)

	sessionID := uuid.New().String()
	dir := filepath.Join(cfg.Runtime.OutputDir,
		fmt.Sprintf("session_%s_%s", time.Now().Format("2006-01-02_15-04-05"), sessionID[:8]))
	created := time.Now()

	eventsFile, err := stream.Create(dir, stream.Header{
		Stream:  stream.EventInfo(sessionID),
		Session: sessionID,
		Created: created,
		Host:    host.Map(),
	})
	if err != nil {
		return fmt.Errorf("event stream: %w", err)
	}
	pupilFile, err := stream.Create(dir, stream.Header{
		Stream:  stream.PupilInfo(sessionID, cfg.Runtime.SampleRate),
		Session: sessionID,
		Created: created,
		Host:    host.Map(),
	})
	if err != nil {
		eventsFile.Close()
		return fmt.Errorf("pupil stream: %w", err)
	}

	clk := clock.NewScaled(cfg.Runtime.TimeScale)
	frames := headFrames(clk, cfg.Runtime)
	canvas := display.NewCanvas(cfg.Runtime.Canvas, plan.Space(),
		display.WithClock(clk),
		display.WithViewpoint(frames),
		display.WithLogger(logger.Named("display")))

	out := cmd.OutOrStdout()
	events := stream.NewMulti(eventsFile, &console{info: stream.EventInfo(sessionID), w: out})
	exp := engine.NewExperiment(cfg.Runtime, plan, canvas, frames,
		biosignal.NewSimulated(clk, cfg.Runtime.Pupil), events, pupilFile, clk, logger)

	fmt.Fprintf(out, "[*] Host: %s\n", host)
	fmt.Fprintf(out, "[*] Session %s: %d phases, %.1fs nominal (time scale x%g)\n",
		sessionID, plan.Len(), plan.TotalDuration().Seconds(), clk.Factor())

	res, runErr := exp.Run(ctx)

	var saveErr error
	if m := exp.Markers(); m != nil {
		saveErr = m.Save(filepath.Join(dir, "markers.csv"))
	}
	saveErr = multierr.Combine(saveErr, eventsFile.Close(), pupilFile.Close())

	res.Report(out)
	if runErr != nil {
		return multierr.Append(runErr, saveErr)
	}
	if saveErr != nil {
		return fmt.Errorf("failed to save session: %w", saveErr)
	}
	fmt.Fprintf(out, "[+++] Session saved: %s\n", dir)
	return nil
}

// resolvePlan builds the plan from the protocol unless --plan names an
// exported one.
func resolvePlan(out io.Writer, cfg *config.Config) (*protocol.Plan, error) {
	switch planPath {
	case "":
		return protocol.Build(cfg.Protocol)
	case "latest":
		latest, err := protocol.FindLatestPlan(cfg.Runtime.PlanDir)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "[*] Using plan: %s\n", latest)
		return protocol.ReadPlan(latest)
	default:
		return protocol.ReadPlan(planPath)
	}
}

// headFrames is the simulated head: keyframed when head_motion is set,
// otherwise fixed at the origin looking down +Z.
func headFrames(c motion.TimeSource, rt config.Runtime) motion.FrameProvider {
	if len(rt.HeadMotion) > 0 {
		return motion.TrajectoryFromConfig(c, rt.HeadMotion)
	}
	return motion.NewStatic(geom.Pose{Rotation: geom.Identity()})
}

// console echoes markers as progress lines.
type console struct {
	info stream.Info
	w    io.Writer
	mu   sync.Mutex
}

func (c *console) Info() stream.Info {
	return c.info
}

func (c *console) PublishText(ts time.Duration, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := "[*]"
	if strings.HasPrefix(text, "Aborted:") {
		prefix = "[!]"
	}
	_, err := fmt.Fprintf(c.w, "%s %9.3fs %s\n", prefix, ts.Seconds(), text)
	return err
}

func (c *console) PublishNumeric(ts time.Duration, values []float64) error {
	return stream.CheckNumeric(c.info, values)
}
