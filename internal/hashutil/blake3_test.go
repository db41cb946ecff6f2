package hashutil

import (
	"strings"
	"testing"
)

func TestSum_IsStableForSameContent(t *testing.T) {
	a, err := Sum(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	b, err := Sum(strings.NewReader("hello world"))
	if err != nil {
		t.Fatalf("Sum: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable digest, got %q vs %q", a, b)
	}
}

func TestVerify_DetectsMismatch(t *testing.T) {
	sum, _ := Sum(strings.NewReader("hello world"))

	ok, err := Verify(strings.NewReader("hello world"), sum)
	if err != nil || !ok {
		t.Fatalf("expected match, got ok=%v err=%v", ok, err)
	}

	ok, err = Verify(strings.NewReader("goodbye world"), sum)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch to be detected")
	}
}
