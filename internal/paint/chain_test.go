package paint

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/paintd/internal/damage"
	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

type recordingCore struct {
	calls []string
}

func (c *recordingCore) PreparePaint(time.Duration) { c.calls = append(c.calls, "core.prepare") }
func (c *recordingCore) PaintOutputs([]gfx.Output, damage.Mask, region.Region) {
	c.calls = append(c.calls, "core.outputs")
}
func (c *recordingCore) PaintOutput(*Context, gfx.Output, region.Region, damage.Mask) bool {
	c.calls = append(c.calls, "core.output")
	return true
}
func (c *recordingCore) PaintWindow(*Context, Window, WindowAttrib, region.Region, damage.Mask) bool {
	c.calls = append(c.calls, "core.window")
	return true
}
func (c *recordingCore) DonePaint() { c.calls = append(c.calls, "core.done") }
func (c *recordingCore) DamageWindowRect(Window, bool, image.Rectangle) bool {
	c.calls = append(c.calls, "core.damage")
	return false
}

type tracer struct {
	name string
	log  *[]string
}

func (t tracer) Name() string { return t.name }

func (t tracer) PreparePaint(elapsed time.Duration, next PrepareFunc) {
	*t.log = append(*t.log, t.name+".prepare")
	next(elapsed)
}

func (t tracer) DonePaint(next DoneFunc) {
	*t.log = append(*t.log, t.name+".done")
	next()
}

// rejecter refuses clipped output paints, as an effect needing the whole
// output would.
type rejecter struct{}

func (rejecter) Name() string { return "rejecter" }

func (rejecter) PaintOutput(ctx *Context, out gfx.Output, clip region.Region, mask damage.Mask, next OutputFunc) bool {
	if !clip.Covers(out.Rect) {
		return false
	}
	return next(ctx, out, clip, mask)
}

type claimer struct{ claimed []image.Rectangle }

func (*claimer) Name() string { return "claimer" }

func (c *claimer) DamageWindowRect(w Window, initial bool, rect image.Rectangle, next DamageRectFunc) bool {
	if initial {
		return next(w, initial, rect)
	}
	c.claimed = append(c.claimed, rect)
	return true
}

func TestChainRunsPluginsInLoadOrderThenCore(t *testing.T) {
	core := &recordingCore{}
	c := NewChain(nil, nil)
	c.SetCore(core)

	var log []string
	c.Load(tracer{"a", &log}, tracer{"b", &log})
	c.PreparePaint(time.Millisecond)
	c.DonePaint()

	assert.Equal(t, []string{"a.prepare", "b.prepare", "a.done", "b.done"}, log)
	assert.Equal(t, []string{"core.prepare", "core.done"}, core.calls)
	assert.Equal(t, []string{"a", "b"}, c.Plugins())
}

func TestChainSkipsStagesAPluginDoesNotImplement(t *testing.T) {
	core := &recordingCore{}
	c := NewChain(nil, nil)
	c.SetCore(core)
	var log []string
	c.Load(tracer{"a", &log})

	ctx := &Context{Output: -1}
	require.True(t, c.PaintOutput(ctx, gfx.Output{Rect: image.Rect(0, 0, 10, 10)}, region.FromRect(image.Rect(0, 0, 10, 10)), damage.MaskRegion))
	assert.Empty(t, log)
	assert.Equal(t, []string{"core.output"}, core.calls)
}

func TestOutputHookCanRejectClippedAttempt(t *testing.T) {
	core := &recordingCore{}
	c := NewChain(nil, nil)
	c.SetCore(core)
	c.Load(rejecter{})

	out := gfx.Output{Rect: image.Rect(0, 0, 100, 100)}
	ctx := &Context{Output: 0, Outputs: []gfx.Output{out}}

	assert.False(t, c.PaintOutput(ctx, out, region.FromRect(image.Rect(0, 0, 10, 10)), damage.MaskRegion))
	assert.Empty(t, core.calls)
	assert.True(t, c.PaintOutput(ctx, out, region.FromRect(out.Rect), damage.MaskFull))
	assert.Equal(t, []string{"core.output"}, core.calls)
}

func TestDamageClaimSuppressesCore(t *testing.T) {
	core := &recordingCore{}
	cl := &claimer{}
	c := NewChain(nil, nil)
	c.SetCore(core)
	c.Load(cl)

	r := image.Rect(1, 2, 3, 4)
	assert.True(t, c.DamageWindowRect(nil, false, r))
	assert.Equal(t, []image.Rectangle{r}, cl.claimed)
	assert.Empty(t, core.calls)

	assert.False(t, c.DamageWindowRect(nil, true, r))
	assert.Equal(t, []string{"core.damage"}, core.calls)
}

func TestUnloadRebuildsChain(t *testing.T) {
	core := &recordingCore{}
	c := NewChain(nil, nil)
	c.SetCore(core)
	var log []string
	c.Load(tracer{"a", &log}, tracer{"b", &log})

	require.True(t, c.Unload("a"))
	assert.False(t, c.Unload("a"))
	c.DonePaint()
	assert.Equal(t, []string{"b.done"}, log)
	assert.Equal(t, []string{"b"}, c.Plugins())
}

func TestChainWithoutCoreIsSafe(t *testing.T) {
	c := NewChain(nil, nil)
	c.PreparePaint(0)
	c.DonePaint()
	assert.True(t, c.PaintOutput(&Context{Output: -1}, gfx.Output{}, region.Region{}, damage.MaskNone))
	assert.False(t, c.DamageWindowRect(nil, false, image.Rectangle{}))
}

func TestTextureFilterAccessor(t *testing.T) {
	c := NewChain(nil, nil)
	assert.Equal(t, gfx.FilterGood, c.TextureFilter())
	c.SetTextureFilter(gfx.FilterBest)
	assert.Equal(t, gfx.FilterBest, c.TextureFilter())
	assert.Nil(t, c.Programs())
}

func TestProgramsAccessorSharesScreenCache(t *testing.T) {
	cache := gfx.NewProgramCache(nil)
	c := NewChain(cache, nil)
	assert.Same(t, cache, c.Programs())
}

func TestContextCurrentOutput(t *testing.T) {
	out := gfx.Output{ID: 3, Rect: image.Rect(0, 0, 5, 5)}
	ctx := &Context{Output: -1, Outputs: []gfx.Output{out}}
	_, ok := ctx.CurrentOutput()
	assert.False(t, ok)
	ctx.Output = 0
	got, ok := ctx.CurrentOutput()
	require.True(t, ok)
	assert.Equal(t, out, got)
}
