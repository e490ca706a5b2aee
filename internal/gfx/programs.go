package gfx

import "fmt"

// TextureProgram names the program sampling a window texture with filter f
// and returns its source.
func TextureProgram(f Filter) (name, source string) {
	return "texture-" + f.String(), "sample " + f.String()
}

// ProgramCache holds compiled programs by name for the lifetime of a screen.
// It is only touched from the paint pass. A name that failed to compile is
// not retried.
type ProgramCache struct {
	dev      Device
	programs map[string]Program
	failed   map[string]error
}

// NewProgramCache creates an empty cache compiling through dev.
func NewProgramCache(dev Device) *ProgramCache {
	return &ProgramCache{
		dev:      dev,
		programs: make(map[string]Program),
		failed:   make(map[string]error),
	}
}

// Get returns the program for name, compiling source on first use.
func (c *ProgramCache) Get(name, source string) (Program, error) {
	if p, ok := c.programs[name]; ok {
		return p, nil
	}
	if err, ok := c.failed[name]; ok {
		return nil, err
	}
	p, err := c.dev.CompileProgram(name, source)
	if err != nil {
		err = fmt.Errorf("compile program %q: %w", name, err)
		c.failed[name] = err
		return nil, err
	}
	c.programs[name] = p
	return p, nil
}

// Len returns the number of cached programs.
func (c *ProgramCache) Len() int { return len(c.programs) }

// Release frees every cached program and forgets failures.
func (c *ProgramCache) Release() {
	for name, p := range c.programs {
		p.Release()
		delete(c.programs, name)
	}
	clear(c.failed)
}
