//go:build !unix

package spawn

import (
	"os"
	"syscall"
)

func detachedAttr() *syscall.SysProcAttr {
	return nil
}

func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
