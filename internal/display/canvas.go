package display

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/ivlev/pupilstim/internal/clock"
	"github.com/ivlev/pupilstim/internal/colorimetry"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
)

// Op is a recorded display operation.
type Op int

const (
	OpShow Op = iota
	OpHide
)

func (o Op) String() string {
	if o == OpHide {
		return "hide"
	}
	return "show"
}

// Event is one Show or Hide as the canvas saw it. Moves are only counted.
type Event struct {
	Seq      int
	Op       Op
	Handle   Handle
	Label    string
	Layer    Layer
	Position geom.Vec3
	At       time.Duration
}

// Stats summarizes canvas activity. Visible and MaxVisible only count the
// stimulus layer; ambient background and fixation are excluded.
type Stats struct {
	Shown      int
	Hidden     int
	Moves      int
	Visible    int
	MaxVisible int
}

type item struct {
	Stimulus
	seq int
}

// Canvas is a software display. It keeps the scene in memory and rasterizes
// it on demand, as seen from an optional viewpoint.
type Canvas struct {
	mu     sync.Mutex
	width  int
	height int
	focal  float64
	space  string
	next   Handle
	items  map[Handle]*item
	events []Event
	stats  Stats
	broken error

	clock clock.Clock
	view  motion.FrameProvider
	log   *zap.Logger
	pool  *FramePool
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithClock timestamps recorded events.
func WithClock(c clock.Clock) Option {
	return func(cv *Canvas) { cv.clock = c }
}

// WithViewpoint renders world-space scenes from the tracked head pose.
func WithViewpoint(v motion.FrameProvider) Option {
	return func(cv *Canvas) { cv.view = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(cv *Canvas) { cv.log = l }
}

// NewCanvas creates a canvas for the given coordinate space
// (config.SpaceWorld or config.SpaceScreen).
func NewCanvas(cfg config.CanvasConfig, space string, opts ...Option) *Canvas {
	c := &Canvas{
		width:  cfg.Width,
		height: cfg.Height,
		focal:  cfg.Focal,
		space:  space,
		items:  make(map[Handle]*item),
		log:    zap.NewNop(),
		pool:   NewFramePool(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Break makes Ready, Show and SetPosition fail with err until Break(nil).
// Hide keeps working so a failed run can still clean up.
func (c *Canvas) Break(err error) {
	c.mu.Lock()
	c.broken = err
	c.mu.Unlock()
}

func (c *Canvas) Ready() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, c.broken)
	}
	if c.width <= 0 || c.height <= 0 {
		return fmt.Errorf("%w: empty canvas %dx%d", ErrUnavailable, c.width, c.height)
	}
	return nil
}

func (c *Canvas) Show(s Stimulus) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, c.broken)
	}

	c.next++
	h := c.next
	c.items[h] = &item{Stimulus: s, seq: int(h)}

	c.stats.Shown++
	if s.Layer == LayerStimulus {
		c.stats.Visible++
		if c.stats.Visible > c.stats.MaxVisible {
			c.stats.MaxVisible = c.stats.Visible
		}
	}
	c.record(OpShow, h, s)

	c.log.Debug("show",
		zap.Uint64("handle", uint64(h)),
		zap.String("label", s.Label),
		zap.Stringer("layer", s.Layer),
		zap.Stringer("position", s.Position))
	return h, nil
}

func (c *Canvas) Hide(h Handle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.items[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(c.items, h)

	c.stats.Hidden++
	if it.Layer == LayerStimulus {
		c.stats.Visible--
	}
	c.record(OpHide, h, it.Stimulus)

	c.log.Debug("hide", zap.Uint64("handle", uint64(h)), zap.String("label", it.Label))
	return nil
}

func (c *Canvas) SetPosition(h Handle, pos geom.Vec3) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, c.broken)
	}
	it, ok := c.items[h]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	it.Position = pos
	c.stats.Moves++
	return nil
}

func (c *Canvas) record(op Op, h Handle, s Stimulus) {
	ev := Event{
		Seq:      len(c.events),
		Op:       op,
		Handle:   h,
		Label:    s.Label,
		Layer:    s.Layer,
		Position: s.Position,
	}
	if c.clock != nil {
		ev.At = c.clock.Now()
	}
	c.events = append(c.events, ev)
}

// Events returns the Show/Hide history in call order.
func (c *Canvas) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Canvas) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Visible returns what is currently shown, in draw order.
func (c *Canvas) Visible() []Stimulus {
	c.mu.Lock()
	items := c.sortedLocked()
	c.mu.Unlock()

	out := make([]Stimulus, len(items))
	for i, it := range items {
		out[i] = it.Stimulus
	}
	return out
}

func (c *Canvas) sortedLocked() []item {
	items := make([]item, 0, len(c.items))
	for _, it := range c.items {
		items = append(items, *it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Layer != items[j].Layer {
			return items[i].Layer < items[j].Layer
		}
		return items[i].seq < items[j].seq
	})
	return items
}

// Snapshot rasterizes the current scene. Hand the frame back with Release
// once it is no longer needed.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.Lock()
	items := c.sortedLocked()
	c.mu.Unlock()

	pose := geom.Pose{Rotation: geom.Identity()}
	if c.view != nil {
		if p, err := c.view.Current(); err == nil {
			pose = p
		}
	}

	img := c.pool.Get(image.Rect(0, 0, c.width, c.height))
	draw.Draw(img, img.Bounds(), image.Black, image.Point{}, draw.Src)

	for _, it := range items {
		col := colorimetry.Scale(it.Color, it.Luminance).NRGBA()
		if it.Shape == ShapeField {
			draw.Draw(img, img.Bounds(), &image.Uniform{C: col}, image.Point{}, draw.Over)
			continue
		}
		center, radius, ok := c.Project(it.Position, it.Size, pose)
		if !ok {
			continue
		}
		mask := &disc{p: center, r: radius}
		draw.DrawMask(img, mask.Bounds(), &image.Uniform{C: col}, image.Point{}, mask, mask.Bounds().Min, draw.Over)
	}
	return img
}

// Release returns a snapshot frame to the pool.
func (c *Canvas) Release(img *image.RGBA) {
	c.pool.Put(img)
}

// Project maps a stimulus position and size to pixel centre and radius.
// Screen space positions are pixel offsets from the frame centre; world
// space positions are projected through a pinhole at the viewer's pose.
func (c *Canvas) Project(pos geom.Vec3, size float64, pose geom.Pose) (image.Point, int, bool) {
	cx, cy := float64(c.width)/2, float64(c.height)/2

	var x, y, r float64
	if c.space == config.SpaceScreen {
		x, y, r = cx+pos.X, cy-pos.Y, size/2
	} else {
		l := pose.Local(pos)
		if l.Z <= 1e-6 {
			return image.Point{}, 0, false
		}
		x = cx + l.X/l.Z*c.focal
		y = cy - l.Y/l.Z*c.focal
		r = size / 2 / l.Z * c.focal
	}
	if r < 1 {
		r = 1
	}
	return image.Pt(int(math.Round(x)), int(math.Round(y))), int(r + 0.5), true
}

// Thumbnail scales src down to the given width, keeping the aspect ratio.
func Thumbnail(src image.Image, width int) *image.RGBA {
	b := src.Bounds()
	if width <= 0 || b.Dx() == 0 {
		width = b.Dx()
	}
	height := b.Dy() * width / max(b.Dx(), 1)
	dst := image.NewRGBA(image.Rect(0, 0, width, max(height, 1)))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

type disc struct {
	p image.Point
	r int
}

func (d *disc) ColorModel() color.Model {
	return color.AlphaModel
}

func (d *disc) Bounds() image.Rectangle {
	return image.Rect(d.p.X-d.r, d.p.Y-d.r, d.p.X+d.r, d.p.Y+d.r)
}

func (d *disc) At(x, y int) color.Color {
	dx, dy, r := float64(x-d.p.X)+0.5, float64(y-d.p.Y)+0.5, float64(d.r)
	if dx*dx+dy*dy < r*r {
		return color.Alpha{A: 255}
	}
	return color.Alpha{}
}
