//go:build linux || darwin

package backing

import (
	"fmt"
	"testing"
	"time"
)

func uniqueRegionName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("backing-test-%d", time.Now().UnixNano())
}

func TestCreateOpenDestroy(t *testing.T) {
	p := Posix{}
	name := uniqueRegionName(t)

	region, err := p.Create(name, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(region.Mem) != 4096 {
		t.Fatalf("len(Mem) = %d, want 4096", len(region.Mem))
	}
	region.Mem[0] = 0xAB

	opened, err := p.Open(name)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.Mem[0] != 0xAB {
		t.Fatalf("opened region did not see writer's byte")
	}

	if err := p.Unmap(opened); err != nil {
		t.Fatalf("Unmap: %v", err)
	}

	if err := p.Destroy(name, region); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if _, err := p.Open(name); err == nil {
		t.Fatal("expected Open to fail after Destroy")
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	p := Posix{}
	name := uniqueRegionName(t)

	region, err := p.Create(name, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer p.Destroy(name, region)

	if _, err := p.Create(name, 4096); err == nil {
		t.Fatal("expected second Create of the same name to fail")
	}
}
