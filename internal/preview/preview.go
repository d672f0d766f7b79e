package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/pupilstim/internal/analyzer"
	"github.com/ivlev/pupilstim/internal/config"
	"github.com/ivlev/pupilstim/internal/display"
	"github.com/ivlev/pupilstim/internal/geom"
	"github.com/ivlev/pupilstim/internal/motion"
	"github.com/ivlev/pupilstim/internal/protocol"
)

const (
	pad         = 8
	labelHeight = 16
	qrSize      = 96
)

var (
	sheetBackground = color.NRGBA{R: 0x20, G: 0x20, B: 0x20, A: 0xff}
	missColor       = color.NRGBA{R: 0xff, G: 0x40, B: 0x40, A: 0xff}
)

// Options controls the contact sheet layout.
type Options struct {
	Columns   int
	TileWidth int
	Logger    *zap.Logger
}

// Tile is the check result for one phase.
type Tile struct {
	Phase    int
	Label    string
	Expected image.Point // projected centre, frame pixels
	Found    bool
	Blob     analyzer.Blob
}

// Sheet is a rendered plan preview.
type Sheet struct {
	Image *image.RGBA
	Tiles []Tile
}

// Missing lists the phases whose stimulus did not land inside the frame.
func (s *Sheet) Missing() []Tile {
	var out []Tile
	for _, t := range s.Tiles {
		if !t.Found {
			out = append(out, t)
		}
	}
	return out
}

// Render draws every phase of the plan as it would appear at the phase
// start with the viewer at the reference pose, and checks that each
// stimulus is visible in its frame.
func Render(plan *protocol.Plan, cfg config.CanvasConfig, opts Options) (*Sheet, error) {
	if plan == nil || plan.Len() == 0 {
		return nil, fmt.Errorf("%w: empty plan", protocol.ErrConfiguration)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: canvas %dx%d", display.ErrUnavailable, cfg.Width, cfg.Height)
	}
	if opts.Columns <= 0 {
		opts.Columns = 4
	}
	if opts.TileWidth <= 0 {
		opts.TileWidth = 240
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	tileHeight := cfg.Height * opts.TileWidth / cfg.Width
	rows := (plan.Len() + opts.Columns - 1) / opts.Columns
	header := qrSize + 2*pad
	width := opts.Columns*(opts.TileWidth+pad) + pad
	height := header + rows*(tileHeight+labelHeight+pad) + pad

	sheet := &Sheet{Image: image.NewRGBA(image.Rect(0, 0, width, height))}
	draw.Draw(sheet.Image, sheet.Image.Bounds(), &image.Uniform{C: sheetBackground}, image.Point{}, draw.Src)

	if err := drawHeader(sheet.Image, plan); err != nil {
		return nil, err
	}

	pose := geom.Pose{Rotation: geom.Identity()}
	det := analyzer.NewContrastDetector()
	var field *display.Stimulus
	if bg, ok := plan.Background(); ok {
		field = &display.Stimulus{Label: "background", Shape: display.ShapeField, Color: bg.Color, Luminance: bg.Luminance, Layer: display.LayerBackground}
	}
	for i, ph := range plan.Phases() {
		tile, frame, err := renderPhase(plan, ph, field, cfg, pose, det)
		if err != nil {
			return nil, fmt.Errorf("phase %d: %w", ph.Index, err)
		}
		if ph.Kind == protocol.Background {
			// adaptation fields stay up for the phases that follow
			field = &display.Stimulus{Label: ph.Label, Shape: display.ShapeField, Color: ph.Color, Luminance: ph.Luminance, Layer: display.LayerBackground}
		}
		sheet.Tiles = append(sheet.Tiles, tile)

		col, row := i%opts.Columns, i/opts.Columns
		origin := image.Pt(pad+col*(opts.TileWidth+pad), header+row*(tileHeight+labelHeight+pad))
		thumb := display.Thumbnail(frame, opts.TileWidth)
		draw.Draw(sheet.Image, thumb.Bounds().Add(origin), thumb, image.Point{}, draw.Src)

		text := fmt.Sprintf("%d %s", ph.Index, ph.Label)
		if !tile.Found {
			outline(sheet.Image, thumb.Bounds().Add(origin), missColor)
			text += " (off-frame)"
			log.Warn("stimulus not visible in preview",
				zap.Int("phase", ph.Index),
				zap.String("label", ph.Label),
				zap.Stringer("location", ph.Location))
		}
		label(sheet.Image, origin.Add(image.Pt(0, tileHeight+labelHeight-4)), fit(text, opts.TileWidth), color.White)
	}

	return sheet, nil
}

// renderPhase lays out the scene of one phase on a fresh canvas and
// returns the rendered frame together with the visibility check.
func renderPhase(plan *protocol.Plan, ph protocol.Phase, field *display.Stimulus, cfg config.CanvasConfig, pose geom.Pose, det analyzer.Detector) (Tile, image.Image, error) {
	c := display.NewCanvas(cfg, plan.Space(), display.WithViewpoint(motion.NewStatic(pose)))
	tile := Tile{Phase: ph.Index, Label: ph.Label}

	if field != nil && ph.Kind != protocol.Background {
		if _, err := c.Show(*field); err != nil {
			return tile, nil, err
		}
	}
	if fx, ok := plan.Fixation(); ok {
		if _, err := c.Show(display.Stimulus{Label: "fixation", Shape: display.ShapeDisc, Color: fx.Color, Luminance: fx.Luminance, Position: pose.Anchor(fx.Offset), Size: fx.Size, Layer: display.LayerFixation}); err != nil {
			return tile, nil, err
		}
	}

	st := display.Stimulus{
		Label:     ph.Label,
		Shape:     ph.Kind.Shape(),
		Color:     ph.Color,
		Luminance: ph.Luminance,
		Size:      ph.Size,
		Layer:     display.LayerStimulus,
	}
	if ph.Kind == protocol.Background {
		st.Layer = display.LayerBackground
	} else {
		st.Position = pose.Anchor(ph.Location)
	}
	if _, err := c.Show(st); err != nil {
		return tile, nil, err
	}

	frame := c.Snapshot()
	defer c.Release(frame)
	// the pooled frame is reused, keep a private copy for the sheet
	out := image.NewRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, image.Point{}, draw.Src)

	if ph.Kind == protocol.Background {
		tile.Expected = image.Pt(cfg.Width/2, cfg.Height/2)
		tile.Found = analyzer.Background(out) == ph.Visible().NRGBA()
		return tile, out, nil
	}

	center, _, ok := c.Project(st.Position, st.Size, pose)
	tile.Expected = center
	if !ok || !center.In(out.Bounds()) {
		return tile, out, nil
	}
	blobs, err := det.Detect(out)
	if err != nil {
		return tile, out, err
	}
	if b, ok := analyzer.Nearest(blobs, center); ok && b.Contains(center) {
		tile.Found, tile.Blob = true, b
	}
	return tile, out, nil
}

func drawHeader(img *image.RGBA, plan *protocol.Plan) error {
	fp := plan.Fingerprint()
	qr, err := qrcode.New(fp, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("fingerprint code: %w", err)
	}
	code := qr.Image(qrSize)
	draw.Draw(img, code.Bounds().Add(image.Pt(pad, pad)), code, code.Bounds().Min, draw.Src)

	x := 2*pad + qrSize
	label(img, image.Pt(x, pad+13), "plan "+fp, color.White)
	label(img, image.Pt(x, pad+13+labelHeight), fmt.Sprintf("%s space, %d phases, %s", plan.Space(), plan.Len(), plan.TotalDuration()), color.White)
	label(img, image.Pt(x, pad+13+2*labelHeight), fmt.Sprintf("chromatic %d | long %d | background %d",
		plan.Count(protocol.Chromatic), plan.Count(protocol.LongDuration), plan.Count(protocol.Background)), color.White)
	return nil
}

func label(img *image.RGBA, dot image.Point, text string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(dot.X, dot.Y),
	}
	d.DrawString(text)
}

// fit truncates text to the glyphs that fit into width pixels.
func fit(text string, width int) string {
	n := width / basicfont.Face7x13.Advance
	if len(text) <= n {
		return text
	}
	if n < 2 {
		return ""
	}
	return text[:n-1] + "~"
}

func outline(img *image.RGBA, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+2),
		image.Rect(r.Min.X, r.Max.Y-2, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+2, r.Max.Y),
		image.Rect(r.Max.X-2, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(img, edge, u, image.Point{}, draw.Src)
	}
}

// WritePNG saves the sheet, creating the directory if needed.
func WritePNG(img image.Image, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
