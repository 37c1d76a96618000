//go:build windows

package localfs

import "golang.org/x/sys/windows"

// availableSpace returns the bytes available to the caller on the volume
// holding dir.
func availableSpace(dir string) (int64, bool) {
	p, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, false
	}
	var freeToCaller, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(p, &freeToCaller, &total, &totalFree); err != nil {
		return 0, false
	}
	return int64(freeToCaller), true
}
