package param

// Builder declares a parameter fluently. Values passed to Range, Default
// and the formatter are plain; the parameter stores them normalized.
type Builder struct {
	p *Parameter
}

// New starts a 0..1 automatable parameter. id is the stable string key
// used by session state and scripts.
func New(key Key, id, name string) *Builder {
	return &Builder{p: &Parameter{
		Key:       key,
		ID:        id,
		Name:      name,
		ShortName: name,
		Max:       1,
		Flags:     CanAutomate,
	}}
}

// Range sets the plain bounds. Call it before Default.
func (b *Builder) Range(min, max float64) *Builder {
	b.p.Min, b.p.Max = min, max
	return b
}

// Default sets the plain default value.
func (b *Builder) Default(plain float64) *Builder {
	b.p.DefaultValue = b.p.Normalize(plain)
	return b
}

func (b *Builder) Unit(unit string) *Builder {
	b.p.Unit = unit
	return b
}

// Steps makes the parameter discrete with count steps above the minimum.
func (b *Builder) Steps(count int32) *Builder {
	b.p.StepCount = count
	if count > 0 {
		b.p.Curve = CurveStepped
	}
	return b
}

func (b *Builder) Curve(c Curve) *Builder {
	b.p.Curve = c
	return b
}

// Smoothing overrides the block smoothing time in milliseconds; negative
// disables it.
func (b *Builder) Smoothing(ms float64) *Builder {
	b.p.SmoothingMs = ms
	return b
}

// Flags replaces the flag set.
func (b *Builder) Flags(flags uint32) *Builder {
	b.p.Flags = flags
	return b
}

// Bypass marks the parameter as the host bypass switch.
func (b *Builder) Bypass() *Builder {
	b.p.Flags |= IsBypass
	return b
}

// Formatter sets how plain values are shown and parsed.
func (b *Builder) Formatter(format func(float64) string, parse func(string) (float64, error)) *Builder {
	b.p.formatFunc, b.p.parseFunc = format, parse
	return b
}

// Build returns the parameter set to its default.
func (b *Builder) Build() *Parameter {
	b.p.SetValue(b.p.DefaultValue)
	return b.p
}
