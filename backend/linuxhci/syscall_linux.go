package linuxhci

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// bindHCI binds fd to devID on the given HCI channel. x/sys/unix has no
// typed Sockaddr for AF_BLUETOOTH, so the raw sockaddr_hci struct is
// built and passed through the bind syscall directly, the same approach
// the kernel's own bluetoothd client libraries use.
func bindHCI(fd, devID, channel int) error {
	sa := sockaddrHCI{Family: afBluetooth, Dev: uint16(devID), Channel: uint16(channel)}
	_, _, errno := unix.Syscall(unix.SYS_BIND, uintptr(fd), uintptr(unsafe.Pointer(&sa)), unsafe.Sizeof(sa))
	if errno != 0 {
		return errno
	}
	return nil
}

func setHCIFilter(fd int, f *hciFilterVal) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(solHCI), uintptr(hciFilter),
		uintptr(unsafe.Pointer(f)), unsafe.Sizeof(*f), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
