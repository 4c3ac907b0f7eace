package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/bamsammich/flatfs/internal/filter"
)

// sizeValue is a pflag.Value accepting human sizes such as 64M or 1.5GiB.
type sizeValue int64

func (s *sizeValue) String() string {
	if *s == 0 {
		return ""
	}
	return strconv.FormatInt(int64(*s), 10)
}

func (*sizeValue) Type() string { return "size" }

func (s *sizeValue) Set(val string) error {
	n, err := filter.ParseSize(val)
	if err != nil {
		return err
	}
	*s = sizeValue(n)
	return nil
}

// filterFlag is a custom pflag.Value that preserves CLI ordering of
// --exclude and --include rules by appending to a shared filter.Chain.
type filterFlag struct {
	chain   *filter.Chain
	include bool
}

func (*filterFlag) String() string { return "" }
func (*filterFlag) Type() string   { return "glob" }

func (f *filterFlag) Set(val string) error {
	if f.include {
		return f.chain.AddInclude(val)
	}
	return f.chain.AddExclude(val)
}

// filterFlags builds a filter.Chain from --include/--exclude/--filter and
// the size bounds.
type filterFlags struct {
	chain      *filter.Chain
	filterFile string
	minSize    sizeValue
	maxSize    sizeValue
}

func newFilterFlags(fs *pflag.FlagSet) *filterFlags {
	f := &filterFlags{chain: filter.NewChain()}
	fs.Var(&filterFlag{chain: f.chain}, "exclude", "exclude files matching GLOB (repeatable)")
	fs.Var(&filterFlag{chain: f.chain, include: true}, "include", "include files matching GLOB (repeatable)")
	fs.StringVar(&f.filterFile, "filter", "", "read filter rules from FILE")
	fs.Var(&f.minSize, "min-size", "skip files smaller than SIZE (e.g. 1M, 100K)")
	fs.Var(&f.maxSize, "max-size", "skip files larger than SIZE (e.g. 1G, 500M)")
	return f
}

// build finalizes the chain. Rules from --filter apply after the command-line
// rules.
func (f *filterFlags) build() (*filter.Chain, error) {
	if f.filterFile != "" {
		if err := f.chain.LoadFile(f.filterFile); err != nil {
			return nil, usageError(err)
		}
	}
	if f.minSize > 0 && f.maxSize > 0 && f.minSize > f.maxSize {
		return nil, usageError(fmt.Errorf("--min-size %d exceeds --max-size %d", f.minSize, f.maxSize))
	}
	f.chain.SetMinSize(int64(f.minSize))
	f.chain.SetMaxSize(int64(f.maxSize))
	return f.chain, nil
}
