// internal/harness/run_test.go
package harness

import (
	"testing"

	cfg "github.com/tamzrod/busbridge/internal/config"
)

func TestPatternRoundTrip(t *testing.T) {
	for _, n := range []int{1, 3, 4, 10, 254, 1500} {
		for _, mult := range []uint32{1, 7} {
			p := makePayload(42, mult, n)
			if err := verifyPayload(p, 42, mult, n); err != nil {
				t.Fatalf("n=%d mult=%d: %v", n, mult, err)
			}
		}
	}

	p := makePayload(9, 1, 20)
	p[10] ^= 0x01
	if err := verifyPayload(p, 9, 1, 20); err == nil {
		t.Fatalf("corrupted payload verified")
	}
	if err := verifyPayload(makePayload(9, 1, 20), 10, 1, 20); err == nil {
		t.Fatalf("wrong sequence verified")
	}
}

func TestRunStress(t *testing.T) {
	res, err := Run(Workload{
		Kind:   cfg.KindStress,
		Cycles: 3,
		Sizes:  []int{10, 100, 1500},
	}, t.Logf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Errors != 0 {
		t.Fatalf("stress errors: %d", res.Errors)
	}
	if res.Msgs != 9 {
		t.Fatalf("msgs = %d, want 9", res.Msgs)
	}
}

func TestRunWriteBlast(t *testing.T) {
	res, err := Run(Workload{Kind: cfg.KindWriteBlast, Cycles: 25}, t.Logf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Msgs != 25 {
		t.Fatalf("msgs = %d", res.Msgs)
	}
}

func TestRunReadBlast(t *testing.T) {
	res, err := Run(Workload{Kind: cfg.KindReadBlast, Cycles: 25}, t.Logf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Errors != 0 || res.Msgs != 25 {
		t.Fatalf("result: %+v", res)
	}
}

func TestRunLoopback(t *testing.T) {
	res, err := Run(Workload{
		Kind:   cfg.KindLoopback,
		Cycles: 2,
		Sizes:  []int{1, 8, 254},
		Device: 2,
	}, t.Logf)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Errors != 0 {
		t.Fatalf("loopback errors: %d", res.Errors)
	}
	if res.Msgs != 6 {
		t.Fatalf("msgs = %d, want 6", res.Msgs)
	}
}

func TestRunUnknownKind(t *testing.T) {
	if _, err := Run(Workload{Kind: "nope"}, nil); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
