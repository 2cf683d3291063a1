package shtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	root := t.TempDir()
	bin := filepath.Join(root, "bin")
	r := newTestRunner(t, Config{
		TestRoot: root,
		BinDir:   bin,
		Setup:    filepath.Join(root, "setup.sh"),
		Teardown: filepath.Join(root, "teardown.sh"),
	})

	tests := []struct {
		path string
		want changeKind
	}{
		{filepath.Join(root, "a.prsl"), changeTest},
		{filepath.Join(root, "sub", "b.prsl"), changeTest},
		{filepath.Join(root, "notes.txt"), changeIgnored},
		{filepath.Join(root, "shtest.toml"), changeConfig},
		{filepath.Join(root, "setup.sh"), changeProject},
		{filepath.Join(root, "teardown.sh"), changeProject},
		{filepath.Join(bin, "tool"), changeProject},
		{filepath.Join(root, "binary.prsl"), changeTest},
	}
	for _, tt := range tests {
		if got := r.classify(tt.path); got != tt.want {
			t.Errorf("classify(%s) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestWatch_RerunsChangedTests(t *testing.T) {
	skipOnWindows(t)
	root := t.TempDir()
	writeTest(t, root, "a.prsl", "# RUN: true\n")

	r := newTestRunner(t, Config{TestRoot: root})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reports := make(chan *Report, 4)
	done := make(chan error, 1)
	go func() {
		done <- r.Watch(ctx, nil, func(rep *Report) { reports <- rep })
	}()

	next := func() *Report {
		t.Helper()
		select {
		case rep := <-reports:
			return rep
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for a report")
			return nil
		}
	}

	first := next()
	if first.Counts.Total != 1 || first.Outcomes[0].File.Rel != "a.prsl" {
		t.Fatalf("initial run = %+v", first.Counts)
	}

	writeTest(t, root, "b.prsl", "# RUN: false\n")
	second := next()
	if second.Counts.Total != 1 || second.Outcomes[0].File.Rel != "b.prsl" {
		t.Fatalf("rerun = %+v", second.Outcomes)
	}
	if second.Outcomes[0].Status != StatusFail {
		t.Errorf("b.prsl = %s, want fail", second.Outcomes[0].Status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
