//go:build !linux

package platform

import "os"

// Reserve is unsupported off Linux; the data file grows on demand.
func Reserve(*os.File, int64, int64) bool { return false }
