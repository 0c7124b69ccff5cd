package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSink_WriteAppendsOneLinePerRecord(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	exitCode := 0
	r1 := Record{Timestamp: time.Now().UTC(), Profile: "staging", Tool: "ssh_execute", ExitCode: &exitCode}
	r2 := Record{Timestamp: time.Now().UTC(), Profile: "staging", Tool: "k8s_list_pods"}

	if err := sink.Write(r1); err != nil {
		t.Fatalf("Write r1: %v", err)
	}
	if err := sink.Write(r2); err != nil {
		t.Fatalf("Write r2: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening log: %v", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var decoded Record
	if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
		t.Fatalf("decoding line: %v", err)
	}
	if decoded.Tool != "ssh_execute" {
		t.Errorf("expected ssh_execute, got %s", decoded.Tool)
	}
}
