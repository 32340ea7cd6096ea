package sysinfo

import "testing"

func TestCollect(t *testing.T) {
	snap, err := Collect(2)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if snap.Hostname == "" {
		t.Error("hostname is empty")
	}
	if snap.CPUCores <= 0 {
		t.Errorf("cpu cores = %d", snap.CPUCores)
	}
	if snap.MemoryTotalMB == 0 {
		t.Error("memory total is zero")
	}
	if snap.CameraDevices == nil {
		t.Error("camera devices should be a non-nil slice")
	}
}
