//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package server

func controlReusePort() control {
	return nil
}
