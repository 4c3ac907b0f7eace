// Package filter selects files of a flat namespace by name glob and size.
package filter

// Rule is a single include or exclude rule.
type Rule struct {
	Pattern *Pattern
	Include bool
}

// Chain holds an ordered list of rules plus size bounds.
type Chain struct {
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty chain that matches every file.
func NewChain() *Chain {
	return &Chain{}
}

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(glob string) error {
	return c.add(glob, false)
}

// AddInclude appends an include rule.
func (c *Chain) AddInclude(glob string) error {
	return c.add(glob, true)
}

func (c *Chain) add(glob string, include bool) error {
	p, err := Compile(glob)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, Rule{Pattern: p, Include: include})
	return nil
}

// SetMinSize drops files smaller than n bytes (0 = no bound).
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops files larger than n bytes (0 = no bound).
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain has no rules and no size bounds.
func (c *Chain) Empty() bool {
	return len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0
}

// Match reports whether the file should be selected. Size bounds apply
// first; then the first matching rule decides; a file no rule matches is
// selected.
func (c *Chain) Match(name string, size int64) bool {
	if c == nil {
		return true
	}
	if c.minSize > 0 && size < c.minSize {
		return false
	}
	if c.maxSize > 0 && size > c.maxSize {
		return false
	}
	for _, r := range c.rules {
		if r.Pattern.Match(name) {
			return r.Include
		}
	}
	return true
}
