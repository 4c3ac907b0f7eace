package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Load reads rules, one per line, and appends them to the chain:
//
//	+ pattern   include
//	- pattern   exclude
//	pattern     exclude
//	# comment
func (c *Chain) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		include := false
		switch {
		case strings.HasPrefix(line, "+ "):
			include = true
			line = strings.TrimSpace(line[2:])
		case strings.HasPrefix(line, "- "):
			line = strings.TrimSpace(line[2:])
		}
		if err := c.add(line, include); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}
	return scanner.Err()
}

// LoadFile reads rules from the file at path.
func (c *Chain) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open filter file: %w", err)
	}
	defer f.Close()
	if err := c.Load(f); err != nil {
		return fmt.Errorf("filter file %s: %w", path, err)
	}
	return nil
}
