package ui

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"github.com/hajimehoshi/ebiten/v2/vector"
	"github.com/nevisdale/gigasd/internal/gigatron"
)

// Left/Right - scroll
// Up/Down - zoom
// Home/End - jump to start/end

type UI struct {
	title     string
	probes    []gigatron.Probe
	transfers []gigatron.Transfer

	// first visible probe and pixels per probe
	offset int
	zoom   int
}

func New(title string, probes []gigatron.Probe) *UI {
	return &UI{
		title:     title,
		probes:    probes,
		transfers: gigatron.Transfers(probes),
		zoom:      8,
	}
}

func (ui *UI) visible() int {
	return traceWidth / ui.zoom
}

func (ui *UI) scroll(n int) {
	ui.offset = max(0, min(ui.offset+n, len(ui.probes)-ui.visible()))
}

func (ui *UI) Update() error {
	step := max(1, ui.visible()/16)
	if ebiten.IsKeyPressed(ebiten.KeyArrowRight) {
		ui.scroll(step)
	}
	if ebiten.IsKeyPressed(ebiten.KeyArrowLeft) {
		ui.scroll(-step)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowUp) && ui.zoom < 32 {
		ui.zoom *= 2
		ui.scroll(0)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyArrowDown) && ui.zoom > 1 {
		ui.zoom /= 2
		ui.scroll(0)
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyHome) {
		ui.offset = 0
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyEnd) {
		ui.scroll(len(ui.probes))
	}
	return nil
}

var (
	colorBackground = color.RGBA{20, 20, 20, 255}
	colorPanel      = color.RGBA{50, 50, 50, 255}
	colorMOSI       = color.RGBA{80, 200, 80, 255}
	colorMISO       = color.RGBA{230, 180, 60, 255}
	colorSelect     = color.RGBA{120, 140, 230, 255}
	colorState      = color.RGBA{90, 90, 90, 255}
)

// lane draws one digital signal as a square wave.
func (ui *UI) lane(screen *ebiten.Image, y float32, clr color.Color, level func(p gigatron.Probe) bool) {
	end := min(len(ui.probes), ui.offset+ui.visible())
	prev := float32(-1)
	for i := ui.offset; i < end; i++ {
		x := float32((i - ui.offset) * ui.zoom)
		ly := y + laneHeight
		if level(ui.probes[i]) {
			ly = y
		}
		if prev >= 0 && prev != ly {
			vector.StrokeLine(screen, x, prev, x, ly, 1, clr, false)
		}
		vector.StrokeLine(screen, x, ly, x+float32(ui.zoom), ly, 1, clr, false)
		prev = ly
	}
}

func (ui *UI) Draw(screen *ebiten.Image) {
	screen.Fill(colorBackground)

	ui.lane(screen, laneMOSI, colorMOSI, func(p gigatron.Probe) bool { return p.MOSI != 0 })
	ui.lane(screen, laneMISO, colorMISO, func(p gigatron.Probe) bool { return p.MISO != 0 })
	ui.lane(screen, laneSelect, colorSelect, func(p gigatron.Probe) bool { return !p.Selected })
	ebitenutil.DebugPrintAt(screen, "MOSI", 2, laneMOSI-16)
	ebitenutil.DebugPrintAt(screen, "MISO", 2, laneMISO-16)
	ebitenutil.DebugPrintAt(screen, "/SS0", 2, laneSelect-16)

	// state changes as markers with labels
	end := min(len(ui.probes), ui.offset+ui.visible())
	labelX := -1000
	for i := ui.offset; i < end; i++ {
		if i > 0 && ui.probes[i].State == ui.probes[i-1].State {
			continue
		}
		x := (i - ui.offset) * ui.zoom
		vector.StrokeLine(screen, float32(x), laneState, float32(x), laneState+laneHeight, 1, colorState, false)
		// skip labels that would overlap
		if x-labelX > 80 {
			ebitenutil.DebugPrintAt(screen, ui.probes[i].State.String(), x+2, laneState)
			labelX = x
		}
	}

	// decoded bytes, when there is room for them
	if ui.zoom >= 4 {
		for _, t := range ui.transfers {
			if t.Index < ui.offset || t.Index >= end {
				continue
			}
			x := (t.Index - ui.offset) * ui.zoom
			ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%02X", t.MOSI), x+2, laneMOSI+laneHeight+2)
			ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%02X", t.MISO), x+2, laneMISO+laneHeight+2)
		}
	}

	var info strings.Builder
	fmt.Fprintf(&info, " %s\n", ui.title)
	fmt.Fprintf(&info, " FPS: %0.0f\n", ebiten.ActualFPS())
	fmt.Fprintf(&info, " PROBES: %d  BYTES: %d\n", len(ui.probes), len(ui.transfers))
	fmt.Fprintf(&info, " ZOOM: %dpx/bit\n", ui.zoom)
	if ui.offset < len(ui.probes) {
		p := ui.probes[ui.offset]
		fmt.Fprintf(&info, " CYCLE: %d\n", p.Cycle)
		fmt.Fprintf(&info, " STATE: %s\n", p.State)
	}
	vector.DrawFilledRect(screen, 0, infoOffsetY, screenWidth, screenHeight-infoOffsetY, colorPanel, false)
	ebitenutil.DebugPrintAt(screen, info.String(), 0, infoOffsetY)
}

const (
	screenWidth  = 1024
	screenHeight = 360
	traceWidth   = screenWidth

	laneHeight = 24
	laneMOSI   = 30
	laneMISO   = 100
	laneSelect = 170
	laneState  = 220

	infoOffsetY = 260
)

func (ui *UI) Layout(_, _ int) (int, int) {
	return screenWidth, screenHeight
}

func RunUI(ui *UI) error {
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(screenWidth, screenHeight*2)
	ebiten.SetWindowTitle("gigasd - " + ui.title)
	ebiten.SetTPS(60)
	return ebiten.RunGame(ui)
}
