package nic

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cstatelab/wakebench/pkg/device"
)

const testAddr = "0000:03:00.0"

// fakeTree builds sysfs and debugfs trees for one card bound to driver
// e1000e with netdev eth0 in the given operstate.
func fakeTree(t *testing.T, operstate string) (sysfs, debugfs string) {
	t.Helper()
	root := t.TempDir()

	sysfs = filepath.Join(root, "sys", "bus", "pci", "devices")
	debugfs = filepath.Join(root, "debug", "wakebench")

	devDir := filepath.Join(sysfs, testAddr)
	driverDir := filepath.Join(root, "sys", "bus", "pci", "drivers", "e1000e")
	netDir := filepath.Join(devDir, "net", "eth0")
	helperDir := filepath.Join(debugfs, testAddr)

	for _, dir := range []string{devDir, driverDir, netDir, helperDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("Failed to build fake tree: %v", err)
		}
	}

	if err := os.Symlink(driverDir, filepath.Join(devDir, "driver")); err != nil {
		t.Fatalf("Failed to link driver: %v", err)
	}
	mustWrite(t, filepath.Join(netDir, "operstate"), operstate)
	mustWrite(t, filepath.Join(driverDir, "unbind"), "")
	mustWrite(t, filepath.Join(driverDir, "bind"), "")

	// Helper state: bounds plus an already-completed event.
	mustWrite(t, filepath.Join(helperDir, "ldist_min"), "10000")
	mustWrite(t, filepath.Join(helperDir, "ldist_max"), "1000000000")
	mustWrite(t, filepath.Join(helperDir, "arm"), "")
	mustWrite(t, filepath.Join(helperDir, "done"), "1")
	mustWrite(t, filepath.Join(helperDir, "ltime"), "5000000")
	mustWrite(t, filepath.Join(helperDir, "tbi"), "4900000")
	mustWrite(t, filepath.Join(helperDir, "tai"), "5000700")
	mustWrite(t, filepath.Join(helperDir, "rtd"), "350")

	return sysfs, debugfs
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func newTestNIC(t *testing.T, sysfs, debugfs string) device.Device {
	t.Helper()
	dev, err := New(0, map[string]string{
		"pci":     testAddr,
		"sysfs":   sysfs,
		"debugfs": debugfs,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return dev
}

func TestNICRequiresPCIAddress(t *testing.T) {
	if _, err := New(0, nil); err == nil {
		t.Fatal("Expected error without a PCI address")
	}
}

func TestNICBusyWithoutForce(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "up")
	dev := newTestNIC(t, sysfs, debugfs)

	err := dev.Enable(false)
	if err == nil {
		t.Fatal("Expected busy error for a card carrying traffic")
	}
	if !errors.Is(err, device.ErrBusy) {
		t.Errorf("Error should wrap device.ErrBusy, got %v", err)
	}
}

func TestNICForceOverridesBusy(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "up")
	dev := newTestNIC(t, sysfs, debugfs)

	if err := dev.Enable(true); err != nil {
		t.Fatalf("Enable with force failed: %v", err)
	}
	if err := dev.Exit(); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}
}

func TestNICEnableRefinesBounds(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "down")
	dev := newTestNIC(t, sysfs, debugfs)

	if err := dev.Enable(false); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	defer dev.Exit()

	info := dev.Info()
	if info.LDistMin != 10_000 || info.LDistMax != 1_000_000_000 {
		t.Errorf("Bounds not refined from helper: [%d, %d]", info.LDistMin, info.LDistMax)
	}
}

func TestNICHelperMissingRestoresDriver(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "down")
	if err := os.RemoveAll(filepath.Join(debugfs, testAddr)); err != nil {
		t.Fatalf("Failed to remove helper dir: %v", err)
	}

	dev := newTestNIC(t, sysfs, debugfs)
	if err := dev.Enable(false); err == nil {
		t.Fatal("Expected error when the kernel helper is absent")
	}

	bind := filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "bind")
	data, err := os.ReadFile(bind)
	if err != nil {
		t.Fatalf("Failed to read bind file: %v", err)
	}
	if string(data) != testAddr {
		t.Errorf("Driver not rebound after failed enable: bind = %q", data)
	}
}

func TestNICHelperMissingRebindFailureSurfaces(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "down")
	if err := os.RemoveAll(filepath.Join(debugfs, testAddr)); err != nil {
		t.Fatalf("Failed to remove helper dir: %v", err)
	}
	// Replace the bind file with a directory so the rebind write fails
	// regardless of who runs the tests.
	bind := filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "bind")
	if err := os.Remove(bind); err != nil {
		t.Fatalf("Failed to remove bind file: %v", err)
	}
	if err := os.Mkdir(bind, 0o755); err != nil {
		t.Fatalf("Failed to block bind file: %v", err)
	}

	dev := newTestNIC(t, sysfs, debugfs)
	err := dev.Enable(false)
	if err == nil {
		t.Fatal("Expected error when the kernel helper is absent")
	}
	if !strings.Contains(err.Error(), "rebinding") {
		t.Errorf("Rebind failure not surfaced in enable error: %v", err)
	}
}

func TestNICCycle(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "down")
	dev := newTestNIC(t, sysfs, debugfs)

	if err := dev.Enable(false); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	defer dev.Exit()

	if _, err := dev.Arm(1); err == nil {
		t.Error("Expected rejection below ldist_min")
	}

	launch, err := dev.Arm(100_000)
	if err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	if launch != 5_000_000 {
		t.Errorf("Launch time = %d, want 5000000", launch)
	}

	if !dev.Done() {
		t.Fatal("Helper reports done but Done() is false")
	}

	c, err := dev.Capture()
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if c.LaunchTime != 5_000_000 || c.TimeBeforeIdle != 4_900_000 || c.TimeAfterIdle != 5_000_700 {
		t.Errorf("Unexpected capture: %+v", c)
	}
	if c.Aux["RTD"] != 350 {
		t.Errorf("RTD = %d, want 350", c.Aux["RTD"])
	}

	// The armed launch distance reached the helper.
	data, err := os.ReadFile(filepath.Join(debugfs, testAddr, "arm"))
	if err != nil {
		t.Fatalf("Failed to read arm file: %v", err)
	}
	if string(data) != "100000" {
		t.Errorf("Helper arm file = %q, want 100000", string(data))
	}
}

func TestNICExitRestoresDriver(t *testing.T) {
	sysfs, debugfs := fakeTree(t, "down")
	dev := newTestNIC(t, sysfs, debugfs)

	if err := dev.Enable(false); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	// Enable recorded the unbind.
	unbind, err := os.ReadFile(filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "unbind"))
	if err != nil {
		t.Fatalf("Failed to read unbind file: %v", err)
	}
	if string(unbind) != testAddr {
		t.Errorf("Unbind file = %q, want %q", string(unbind), testAddr)
	}

	if err := dev.Exit(); err != nil {
		t.Fatalf("Exit failed: %v", err)
	}

	bind, err := os.ReadFile(filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "bind"))
	if err != nil {
		t.Fatalf("Failed to read bind file: %v", err)
	}
	if string(bind) != testAddr {
		t.Errorf("Bind file = %q, want %q", string(bind), testAddr)
	}

	// Exit is idempotent: a second call must not rebind again.
	mustWrite(t, filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "bind"), "")
	if err := dev.Exit(); err != nil {
		t.Fatalf("Second Exit failed: %v", err)
	}
	bind, _ = os.ReadFile(filepath.Join(filepath.Dir(sysfs), "drivers", "e1000e", "bind"))
	if string(bind) != "" {
		t.Error("Second Exit rebound the driver again")
	}
}
