package x11

import (
	"fmt"
	"image"
	"image/color"

	xrender "github.com/BurntSushi/xgb/render"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/1broseidon/paintd/internal/gfx"
	"github.com/1broseidon/paintd/internal/region"
)

// RenderDevice draws with the X Render extension. The back buffer is a
// server-side pixmap and the front buffer is the composite overlay window.
type RenderDevice struct {
	conn    *Connection
	formats []xrender.Pictforminfo
	visual  xrender.Pictformat
	depth   byte

	size     image.Point
	back     xproto.Pixmap
	backPict xrender.Picture
	front    xrender.Picture
	gc       xproto.Gcontext
	target   xrender.Picture

	viewport   image.Rectangle
	projection gfx.Matrix
}

// NewRenderDevice creates the back buffer and a picture on the overlay.
// AcquireOverlay must have been called.
func NewRenderDevice(c *Connection) (*RenderDevice, error) {
	if c.Overlay == 0 {
		return nil, fmt.Errorf("render device needs the overlay window")
	}
	conn := c.Conn()
	reply, err := xrender.QueryPictFormats(conn).Reply()
	if err != nil {
		return nil, fmt.Errorf("query picture formats: %w", err)
	}
	screen := c.XUtil.Screen()
	d := &RenderDevice{
		conn:       c,
		formats:    reply.Formats,
		depth:      screen.RootDepth,
		projection: gfx.Identity(),
	}
	d.visual, err = visualFormat(reply.Screens, screen.RootVisual)
	if err != nil {
		return nil, err
	}

	d.front, err = d.newPicture(xproto.Drawable(c.Overlay), d.visual)
	if err != nil {
		return nil, fmt.Errorf("overlay picture: %w", err)
	}
	gc, err := xproto.NewGcontextId(conn)
	if err != nil {
		return nil, err
	}
	if err := xproto.CreateGCChecked(conn, gc, xproto.Drawable(c.Overlay), 0, nil).Check(); err != nil {
		return nil, fmt.Errorf("create gc: %w", err)
	}
	d.gc = gc

	w, h, err := c.ScreenSize()
	if err != nil {
		return nil, err
	}
	if err := d.Resize(image.Pt(w, h)); err != nil {
		return nil, err
	}
	return d, nil
}

// Resize recreates the back buffer for a new screen size.
func (d *RenderDevice) Resize(size image.Point) error {
	conn := d.conn.Conn()
	if d.backPict != 0 {
		xrender.FreePicture(conn, d.backPict)
		xproto.FreePixmap(conn, d.back)
		d.backPict, d.back = 0, 0
	}
	pix, pict, err := d.newBuffer(size)
	if err != nil {
		return fmt.Errorf("back buffer: %w", err)
	}
	d.back, d.backPict, d.size = pix, pict, size
	d.target = pict
	d.viewport = image.Rectangle{Max: size}
	return nil
}

func (d *RenderDevice) newBuffer(size image.Point) (xproto.Pixmap, xrender.Picture, error) {
	conn := d.conn.Conn()
	pix, err := xproto.NewPixmapId(conn)
	if err != nil {
		return 0, 0, err
	}
	if err := xproto.CreatePixmapChecked(conn, d.depth, pix, xproto.Drawable(d.conn.Root),
		uint16(size.X), uint16(size.Y)).Check(); err != nil {
		return 0, 0, err
	}
	pict, err := d.newPicture(xproto.Drawable(pix), d.visual)
	if err != nil {
		xproto.FreePixmap(conn, pix)
		return 0, 0, err
	}
	return pix, pict, nil
}

func (d *RenderDevice) newPicture(drawable xproto.Drawable, format xrender.Pictformat) (xrender.Picture, error) {
	conn := d.conn.Conn()
	pict, err := xrender.NewPictureId(conn)
	if err != nil {
		return 0, err
	}
	if err := xrender.CreatePictureChecked(conn, pict, drawable, format, 0, nil).Check(); err != nil {
		return 0, err
	}
	return pict, nil
}

// Extensions advertises what the device provides under the names the
// presentation setup knows. Render can neither wait for the retrace nor
// set a swap interval, so no vsync extension is listed.
func (d *RenderDevice) Extensions() []string {
	return []string{
		gfx.ExtCopySubBuffer,
		gfx.ExtCopyPixels,
		gfx.ExtFramebufferARB,
		gfx.ExtTextureFromPixmap,
	}
}

func (d *RenderDevice) DoubleBuffered() bool { return true }
func (d *RenderDevice) Size() image.Point    { return d.size }

func (d *RenderDevice) Viewport() image.Rectangle     { return d.viewport }
func (d *RenderDevice) SetViewport(r image.Rectangle) { d.viewport = r }
func (d *RenderDevice) Projection() gfx.Matrix        { return d.projection }
func (d *RenderDevice) SetProjection(m gfx.Matrix)    { d.projection = m }

func (d *RenderDevice) BindTarget(fb gfx.Framebuffer) {
	if f, ok := fb.(*renderFramebuffer); ok && f.pict != 0 {
		d.target = f.pict
		return
	}
	d.target = d.backPict
}

func (d *RenderDevice) NewFramebuffer(size image.Point) (gfx.Framebuffer, error) {
	pix, pict, err := d.newBuffer(size)
	if err != nil {
		return nil, fmt.Errorf("framebuffer: %w", err)
	}
	return &renderFramebuffer{conn: d.conn, pixmap: pix, pict: pict, size: size}, nil
}

func (d *RenderDevice) BindPixmap(p gfx.NativePixmap, size image.Point, depth int) (gfx.Texture, error) {
	format, ok := formatForDepth(d.formats, byte(depth))
	if !ok {
		return nil, fmt.Errorf("no picture format for depth %d", depth)
	}
	pict, err := d.newPicture(xproto.Drawable(p), format)
	if err != nil {
		return nil, fmt.Errorf("bind pixmap 0x%x: %w", uint32(p), err)
	}
	return &renderTexture{conn: d.conn, pict: pict, size: size}, nil
}

func (d *RenderDevice) CompileProgram(name, source string) (gfx.Program, error) {
	return nil, gfx.ErrUnsupported
}

func (d *RenderDevice) Clear(clip region.Region, c color.Color) {
	rects := xRects(clip.Rects())
	if len(rects) == 0 {
		return
	}
	r, g, b, a := c.RGBA()
	xrender.FillRectangles(d.conn.Conn(), xrender.PictOpSrc, d.target,
		xrender.Color{Red: uint16(r), Green: uint16(g), Blue: uint16(b), Alpha: uint16(a)}, rects)
}

func (d *RenderDevice) DrawTexture(t gfx.Texture, dst image.Point, clip region.Region, opts gfx.DrawOptions) {
	tex, ok := t.(*renderTexture)
	if !ok || tex == nil || tex.pict == 0 {
		return
	}
	scale := opts.Scale
	if scale == 0 {
		scale = 1
	}
	size := image.Pt(int(float64(tex.size.X)*scale), int(float64(tex.size.Y)*scale))
	rects := xRects(clip.IntersectRect(image.Rectangle{Min: dst, Max: dst.Add(size)}).Rects())
	if len(rects) == 0 {
		return
	}
	conn := d.conn.Conn()

	op := byte(xrender.PictOpOver)
	if opts.Opaque && (opts.Opacity == 0 || opts.Opacity >= 1) {
		op = xrender.PictOpSrc
	}
	var mask xrender.Picture
	if opts.Opacity > 0 && opts.Opacity < 1 {
		if m, err := xrender.NewPictureId(conn); err == nil {
			alpha := uint16(opts.Opacity * 0xffff)
			xrender.CreateSolidFill(conn, m, xrender.Color{Alpha: alpha})
			mask = m
			defer xrender.FreePicture(conn, m)
		}
		op = xrender.PictOpOver
	}

	if scale != 1 {
		xrender.SetPictureTransform(conn, tex.pict, scaleTransform(scale))
		filter := opts.Filter.String()
		xrender.SetPictureFilter(conn, tex.pict, uint16(len(filter)), filter, nil)
		defer xrender.SetPictureTransform(conn, tex.pict, scaleTransform(1))
	}

	xrender.SetPictureClipRectangles(conn, d.target, 0, 0, rects)
	xrender.Composite(conn, op, tex.pict, mask, d.target,
		0, 0, 0, 0, int16(dst.X), int16(dst.Y), uint16(size.X), uint16(size.Y))
	xrender.ChangePicture(conn, d.target, xrender.CpClipMask, []uint32{0})
}

func (d *RenderDevice) SwapBuffers() error {
	return d.copyComposite([]image.Rectangle{{Max: d.size}})
}

func (d *RenderDevice) CopySubBuffer(rects []image.Rectangle) error {
	return d.copyComposite(rects)
}

// CopyPixels uses core CopyArea instead of Render.
func (d *RenderDevice) CopyPixels(rects []image.Rectangle) error {
	conn := d.conn.Conn()
	for _, r := range rects {
		xproto.CopyArea(conn, xproto.Drawable(d.back), xproto.Drawable(d.conn.Overlay), d.gc,
			int16(r.Min.X), int16(r.Min.Y), int16(r.Min.X), int16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()))
	}
	return nil
}

func (d *RenderDevice) copyComposite(rects []image.Rectangle) error {
	conn := d.conn.Conn()
	for _, r := range rects {
		xrender.Composite(conn, xrender.PictOpSrc, d.backPict, 0, d.front,
			int16(r.Min.X), int16(r.Min.Y), 0, 0, int16(r.Min.X), int16(r.Min.Y), uint16(r.Dx()), uint16(r.Dy()))
	}
	return nil
}

func (d *RenderDevice) WaitVideoSync() error { return gfx.ErrUnsupported }

func (d *RenderDevice) SetSwapInterval(int) error { return gfx.ErrUnsupported }

// Close frees the device's server resources.
func (d *RenderDevice) Close() {
	conn := d.conn.Conn()
	if d.backPict != 0 {
		xrender.FreePicture(conn, d.backPict)
		xproto.FreePixmap(conn, d.back)
	}
	if d.front != 0 {
		xrender.FreePicture(conn, d.front)
	}
	if d.gc != 0 {
		xproto.FreeGC(conn, d.gc)
	}
}

type renderTexture struct {
	conn *Connection
	pict xrender.Picture
	size image.Point
}

func (t *renderTexture) Size() image.Point { return t.size }

func (t *renderTexture) Release() {
	if t.pict != 0 {
		xrender.FreePicture(t.conn.Conn(), t.pict)
		t.pict = 0
	}
}

type renderFramebuffer struct {
	conn   *Connection
	pixmap xproto.Pixmap
	pict   xrender.Picture
	size   image.Point
}

func (f *renderFramebuffer) Size() image.Point { return f.size }

// Texture shares the framebuffer's picture; releasing it is a no-op.
func (f *renderFramebuffer) Texture() gfx.Texture {
	return &renderTexture{conn: f.conn, pict: f.pict, size: f.size}
}

func (f *renderFramebuffer) Release() {
	if f.pict == 0 {
		return
	}
	conn := f.conn.Conn()
	xrender.FreePicture(conn, f.pict)
	xproto.FreePixmap(conn, f.pixmap)
	f.pict, f.pixmap = 0, 0
}

func xRects(rects []image.Rectangle) []xproto.Rectangle {
	out := make([]xproto.Rectangle, 0, len(rects))
	for _, r := range rects {
		if r.Empty() {
			continue
		}
		out = append(out, xproto.Rectangle{
			X: int16(r.Min.X), Y: int16(r.Min.Y),
			Width: uint16(r.Dx()), Height: uint16(r.Dy()),
		})
	}
	return out
}

// scaleTransform maps destination pixels back to source pixels.
func scaleTransform(scale float64) xrender.Transform {
	one := toFixed(1)
	inv := toFixed(1 / scale)
	return xrender.Transform{
		Matrix11: inv,
		Matrix22: inv,
		Matrix33: one,
	}
}

func toFixed(f float64) xrender.Fixed {
	return xrender.Fixed(f * 65536)
}

func visualFormat(screens []xrender.Pictscreen, visual xproto.Visualid) (xrender.Pictformat, error) {
	for _, s := range screens {
		for _, d := range s.Depths {
			for _, v := range d.Visuals {
				if v.Visual == visual {
					return v.Format, nil
				}
			}
		}
	}
	return 0, fmt.Errorf("no picture format for root visual 0x%x", uint32(visual))
}

// formatForDepth picks a direct-color format. Depth 32 needs alpha, every
// other depth is treated as opaque.
func formatForDepth(formats []xrender.Pictforminfo, depth byte) (xrender.Pictformat, bool) {
	for _, f := range formats {
		if f.Type != xrender.PictTypeDirect || f.Depth != depth {
			continue
		}
		hasAlpha := f.Direct.AlphaMask != 0
		if hasAlpha == (depth == 32) {
			return f.Id, true
		}
	}
	return 0, false
}
