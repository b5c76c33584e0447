package ingest

import "testing"

func TestCOVFilterAcceptsFirstSample(t *testing.T) {
	f := NewCOVFilter(0.5)
	if !f.Accept(10.0, 0) {
		t.Fatal("expected first sample to be accepted")
	}
}

func TestCOVFilterRejectsWithinTolerance(t *testing.T) {
	f := NewCOVFilter(0.5)
	f.Accept(10.0, 0)
	if f.Accept(10.2, 0) {
		t.Fatal("expected sample within tolerance to be rejected")
	}
}

func TestCOVFilterAcceptsBeyondTolerance(t *testing.T) {
	f := NewCOVFilter(0.5)
	f.Accept(10.0, 0)
	if !f.Accept(10.6, 0) {
		t.Fatal("expected sample beyond tolerance to be accepted")
	}
}

func TestCOVFilterAcceptsOnQualityChangeRegardlessOfValue(t *testing.T) {
	f := NewCOVFilter(0.5)
	f.Accept(10.0, 0)
	if !f.Accept(10.0, 1) {
		t.Fatal("expected quality change to force acceptance")
	}
}
