package gfx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNoCompiler = errors.New("no compiler")

type countingProgram struct{ released int }

func (p *countingProgram) Release() { p.released++ }

// compileDevice implements only CompileProgram; the rest of Device stays nil.
type compileDevice struct {
	Device
	compiles map[string]int
	fail     bool
}

func (d *compileDevice) CompileProgram(name, source string) (Program, error) {
	d.compiles[name]++
	if d.fail {
		return nil, errNoCompiler
	}
	return &countingProgram{}, nil
}

func TestProgramCacheCompilesOncePerName(t *testing.T) {
	dev := &compileDevice{compiles: map[string]int{}}
	c := NewProgramCache(dev)

	first, err := c.Get(TextureProgram(FilterGood))
	require.NoError(t, err)
	again, err := c.Get(TextureProgram(FilterGood))
	require.NoError(t, err)
	assert.Same(t, first, again)

	_, err = c.Get(TextureProgram(FilterBest))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"texture-good": 1, "texture-best": 1}, dev.compiles)
	assert.Equal(t, 2, c.Len())
}

func TestProgramCacheRemembersFailure(t *testing.T) {
	dev := &compileDevice{compiles: map[string]int{}, fail: true}
	c := NewProgramCache(dev)

	_, err := c.Get("blur", "src")
	require.ErrorIs(t, err, errNoCompiler)
	assert.Contains(t, err.Error(), `compile program "blur"`)

	_, err = c.Get("blur", "src")
	require.ErrorIs(t, err, errNoCompiler)
	assert.Equal(t, 1, dev.compiles["blur"])
	assert.Zero(t, c.Len())
}

func TestProgramCacheRelease(t *testing.T) {
	dev := &compileDevice{compiles: map[string]int{}}
	c := NewProgramCache(dev)
	p, err := c.Get("a", "src")
	require.NoError(t, err)

	c.Release()
	assert.Equal(t, 1, p.(*countingProgram).released)
	assert.Zero(t, c.Len())

	_, err = c.Get("a", "src")
	require.NoError(t, err)
	assert.Equal(t, 2, dev.compiles["a"], "released programs compile again")
}

func TestTextureProgramNames(t *testing.T) {
	name, source := TextureProgram(FilterFast)
	assert.Equal(t, "texture-fast", name)
	assert.Equal(t, "sample fast", source)
}
