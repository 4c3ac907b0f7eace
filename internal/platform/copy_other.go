//go:build !linux

package platform

func offload(Copy) (int64, error) { return 0, errNoOffload }
