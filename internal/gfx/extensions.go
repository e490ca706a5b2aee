package gfx

// Capability strings recognized by the presentation setup. Devices that are
// not GL based advertise the GL name of the behaviour they provide.
const (
	ExtCopySubBuffer     = "GLX_MESA_copy_sub_buffer"
	ExtVideoSync         = "GLX_SGI_video_sync"
	ExtSwapControlSGI    = "GLX_SGI_swap_control"
	ExtSwapControlEXT    = "GLX_EXT_swap_control"
	ExtSwapControlMESA   = "GLX_MESA_swap_control"
	ExtFramebufferEXT    = "GL_EXT_framebuffer_object"
	ExtFramebufferARB    = "GL_ARB_framebuffer_object"
	ExtCopyPixels        = "GL_copy_pixels"
	ExtTextureFromPixmap = "GLX_EXT_texture_from_pixmap"
	ExtBufferAge         = "GLX_EXT_buffer_age"
)
