// engine.go - Fake slicing engine scripts for tests
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// EngineInfo renders engine --info output for the given extents and volume.
func EngineInfo(x, y, z, volume float64) string {
	return fmt.Sprintf("size_x = %f\nsize_y = %f\nsize_z = %f\nvolume = %f\n", x, y, z, volume)
}

// WriteFakeEngine writes an executable shell script acting as the engine.
// The body runs after the script has written a placeholder to the -o path
// and appended its arguments to <script>.args, one invocation per line.
// The call number (starting at 1) is available as $CALL.
func WriteFakeEngine(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-engine.sh")
	script := fmt.Sprintf(`#!/bin/sh
count_file=%[1]q.count
CALL=$(( $(cat "$count_file" 2>/dev/null || echo 0) + 1 ))
echo "$CALL" > "$count_file"
echo "$@" >> %[1]q.args
out=""
prev=""
for a in "$@"; do
  if [ "$prev" = "-o" ]; then out="$a"; fi
  prev="$a"
done
if [ -n "$out" ]; then echo "; gcode" > "$out"; fi
%[2]s
`, path, body)
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake engine: %v", err)
	}
	return path
}

// FakeEngineCalls returns the argument lines recorded by a fake engine.
func FakeEngineCalls(t *testing.T, enginePath string) []string {
	t.Helper()
	data, err := os.ReadFile(enginePath + ".args")
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("reading fake engine args: %v", err)
	}
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, string(data[start:i]))
			start = i + 1
		}
	}
	return lines
}
