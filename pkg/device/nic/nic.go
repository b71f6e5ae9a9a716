// Package nic implements the NIC-backed delayed-event device. A kernel
// helper owns the network card and programs a delayed packet transmission;
// this package drives the helper through its debugfs files and captures the
// DMA-transaction timestamps it exposes. A PCIe device is accepted only if
// it is not carrying live network traffic.
package nic

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cstatelab/wakebench/pkg/device"
)

const (
	defaultSysfsRoot   = "/sys/bus/pci/devices"
	defaultDebugfsRoot = "/sys/kernel/debug/wakebench"
)

func init() {
	info := device.Info{
		ID:          "ndl",
		Alias:       "nic",
		Description: "PCIe NIC delayed-packet event source",
		Kind:        device.KindNIC,
		LDistMin:    5_000,          // refined from the helper at Enable
		LDistMax:    50_000_000_000, //
		LDistGran:   1,
		Caps: device.CapArm | device.CapPoll | device.CapBeforeIdleTime |
			device.CapAfterIdleTime | device.CapLaunchTime | device.CapEnable,
	}
	if err := device.Register(info, New); err != nil {
		panic(err)
	}
}

// NIC drives one PCIe network card through the kernel helper.
type NIC struct {
	pciAddr string
	info    device.Info

	sysfsRoot   string
	debugfsRoot string

	mu         sync.Mutex
	enabled    bool
	armed      bool
	launchTime uint64
	tbi        uint64

	// Driver the card was bound to before Enable, restored by Exit.
	prevDriver string
}

// New builds a NIC device. The "pci" option selects the card by PCI address
// (e.g. "0000:03:00.0") and is required.
func New(_ int, opts map[string]string) (device.Device, error) {
	addr := opts["pci"]
	if addr == "" {
		return nil, fmt.Errorf("ndl: missing required option \"pci\" (PCI address of the card)")
	}

	n := &NIC{
		pciAddr:     addr,
		sysfsRoot:   defaultSysfsRoot,
		debugfsRoot: defaultDebugfsRoot,
	}
	if root := opts["sysfs"]; root != "" {
		n.sysfsRoot = root
	}
	if root := opts["debugfs"]; root != "" {
		n.debugfsRoot = root
	}
	n.info = device.Info{
		ID:          "ndl",
		Alias:       "nic",
		Description: fmt.Sprintf("PCIe NIC delayed-packet event source (%s)", addr),
		Kind:        device.KindNIC,
		LDistMin:    5_000,
		LDistMax:    50_000_000_000,
		LDistGran:   1,
		Caps: device.CapArm | device.CapPoll | device.CapBeforeIdleTime |
			device.CapAfterIdleTime | device.CapLaunchTime | device.CapEnable,
	}
	return n, nil
}

// Info returns the device descriptor.
func (n *NIC) Info() device.Info {
	return n.info
}

func (n *NIC) devDir() string {
	return filepath.Join(n.sysfsRoot, n.pciAddr)
}

func (n *NIC) helperDir() string {
	return filepath.Join(n.debugfsRoot, n.pciAddr)
}

// Enable detaches the card from its network driver and hands it to the
// kernel helper. It fails with device.ErrBusy when the card is carrying
// live traffic and force is not set.
func (n *NIC) Enable(force bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.enabled {
		return nil
	}

	if _, err := os.Stat(n.devDir()); err != nil {
		return fmt.Errorf("ndl: PCI device %s not present: %w", n.pciAddr, err)
	}

	up, err := n.carrierUp()
	if err != nil {
		return err
	}
	if up && !force {
		return fmt.Errorf("ndl: %s carries live network traffic: %w", n.pciAddr, device.ErrBusy)
	}

	if err := n.unbindDriver(); err != nil {
		return err
	}

	if _, err := os.Stat(n.helperDir()); err != nil {
		// Helper never picked the card up; put the driver back. A card
		// left unbound is worse than the enable failure itself, so a
		// rebind failure must surface alongside it.
		err = fmt.Errorf("ndl: kernel helper not loaded for %s: %w", n.pciAddr, err)
		if rerr := n.rebindDriver(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}

	// The helper knows the real schedulable-delay bounds of this card.
	if v, err := n.readU64("ldist_min"); err == nil {
		n.info.LDistMin = v
	}
	if v, err := n.readU64("ldist_max"); err == nil {
		n.info.LDistMax = v
	}

	n.enabled = true
	return nil
}

// carrierUp reports whether any netdev of the card is operationally up.
func (n *NIC) carrierUp() (bool, error) {
	netDir := filepath.Join(n.devDir(), "net")
	entries, err := os.ReadDir(netDir)
	if err != nil {
		// No netdev at all: the card is not in use by the network stack.
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("ndl: reading %s: %w", netDir, err)
	}

	for _, e := range entries {
		state, err := os.ReadFile(filepath.Join(netDir, e.Name(), "operstate"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(state)) == "up" {
			return true, nil
		}
	}
	return false, nil
}

func (n *NIC) unbindDriver() error {
	driverLink := filepath.Join(n.devDir(), "driver")
	target, err := os.Readlink(driverLink)
	if err != nil {
		if os.IsNotExist(err) {
			// Already unbound.
			n.prevDriver = ""
			return nil
		}
		return fmt.Errorf("ndl: resolving driver of %s: %w", n.pciAddr, err)
	}
	n.prevDriver = filepath.Base(target)

	unbind := filepath.Join(driverLink, "unbind")
	if err := os.WriteFile(unbind, []byte(n.pciAddr), 0o200); err != nil {
		return fmt.Errorf("ndl: unbinding %s from %s: %w", n.pciAddr, n.prevDriver, err)
	}
	return nil
}

func (n *NIC) rebindDriver() error {
	if n.prevDriver == "" {
		return nil
	}
	bind := filepath.Join(filepath.Dir(n.sysfsRoot), "drivers", n.prevDriver, "bind")
	if err := os.WriteFile(bind, []byte(n.pciAddr), 0o200); err != nil {
		return fmt.Errorf("ndl: rebinding %s to %s: %w", n.pciAddr, n.prevDriver, err)
	}
	n.prevDriver = ""
	return nil
}

// Arm programs a delayed packet ldist nanoseconds ahead.
func (n *NIC) Arm(ldist uint64) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.enabled {
		return 0, fmt.Errorf("ndl: device not enabled")
	}
	if n.armed {
		return 0, fmt.Errorf("ndl: event already armed")
	}
	if ldist < n.info.LDistMin || ldist > n.info.LDistMax {
		return 0, fmt.Errorf("ndl: launch distance %d outside [%d, %d]",
			ldist, n.info.LDistMin, n.info.LDistMax)
	}

	if err := n.write("arm", strconv.FormatUint(ldist, 10)); err != nil {
		return 0, err
	}

	ltime, err := n.readU64("ltime")
	if err != nil {
		return 0, err
	}
	tbi, err := n.readU64("tbi")
	if err != nil {
		return 0, err
	}

	n.launchTime = ltime
	n.tbi = tbi
	n.armed = true
	return ltime, nil
}

// Done polls the helper's completion flag. Non-blocking: a debugfs read
// returns immediately whether or not the packet has landed.
func (n *NIC) Done() bool {
	v, err := n.readU64("done")
	return err == nil && v != 0
}

// Capture reads the DMA timestamps of the completed event.
func (n *NIC) Capture() (device.Capture, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.armed {
		return device.Capture{}, fmt.Errorf("ndl: no event armed")
	}

	done, err := n.readU64("done")
	if err != nil {
		return device.Capture{}, err
	}
	if done == 0 {
		return device.Capture{}, device.ErrNotDone
	}

	tai, err := n.readU64("tai")
	if err != nil {
		return device.Capture{}, err
	}
	rtd, err := n.readU64("rtd")
	if err != nil {
		return device.Capture{}, err
	}

	c := device.Capture{
		LaunchTime:     n.launchTime,
		TimeBeforeIdle: n.tbi,
		TimeAfterIdle:  tai,
		Aux:            map[string]uint64{"RTD": rtd},
	}
	n.armed = false
	return c, nil
}

// Exit hands the card back to its original network driver. Safe to call
// more than once; the rebind happens exactly once.
func (n *NIC) Exit() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.armed = false
	if !n.enabled && n.prevDriver == "" {
		return nil
	}
	n.enabled = false
	return n.rebindDriver()
}

func (n *NIC) readU64(name string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(n.helperDir(), name))
	if err != nil {
		return 0, fmt.Errorf("ndl: reading %s: %w", name, err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ndl: parsing %s: %w", name, err)
	}
	return v, nil
}

func (n *NIC) write(name, value string) error {
	path := filepath.Join(n.helperDir(), name)
	if err := os.WriteFile(path, []byte(value), 0o200); err != nil {
		return fmt.Errorf("ndl: writing %s: %w", name, err)
	}
	return nil
}
