package observ

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Log emits one JSON line on stdout. Every event carries ts and event keys;
// callers add the rest.
func Log(event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

// Error is Log with level=error, written to stderr so operators can split
// the streams.
func Error(event string, err error, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["event"] = event
	kv["level"] = "error"
	if err != nil {
		kv["error"] = err.Error()
	}
	b, _ := json.Marshal(kv)
	fmt.Fprintln(os.Stderr, string(b))
}
