// Package servicemessages implements the line-oriented stdout protocol
// consumed by the orchestrator. Messages are tagged lines of the form
//
//	##octopus[<verb> key="<base64>" ...]
//
// Every attribute value is base64-encoded, which keeps the protocol
// robust to embedded newlines and quotes in variable values and paths.
package servicemessages

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Mode selects how the orchestrator renders subsequent plain output
// lines. The mode message is emitted once per change, not per line.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeVerbose Mode = "verbose"
	ModeWarning Mode = "warning"
)

// Emitter writes service messages to the orchestrator's stream. It is
// not safe for concurrent use; the agent is single-threaded by design.
type Emitter struct {
	w    *bufio.Writer
	mode Mode
}

// NewEmitter creates an emitter over w, normally os.Stdout. The initial
// mode is default.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{
		w:    bufio.NewWriter(w),
		mode: ModeDefault,
	}
}

// SetMode switches the output rendering mode, emitting the mode message
// only when the mode actually changes.
func (e *Emitter) SetMode(mode Mode) error {
	if mode == e.mode {
		return nil
	}
	if err := e.emit("stdout-"+string(mode), nil); err != nil {
		return err
	}
	e.mode = mode
	return nil
}

// SetVariable reports an output variable to the orchestrator. Sensitive
// variables are still emitted, since the orchestrator needs the value
// for masking, but carry the sensitive attribute so it is never
// displayed.
func (e *Emitter) SetVariable(name, value string, sensitive bool) error {
	attrs := map[string]string{
		"name":  name,
		"value": value,
	}
	if sensitive {
		attrs["sensitive"] = "True"
	}
	return e.emit("setVariable", attrs)
}

// CreateArtifact registers a collected file with the orchestrator.
func (e *Emitter) CreateArtifact(path, name string, length int64) error {
	return e.emit("createArtifact", map[string]string{
		"path":   path,
		"name":   name,
		"length": strconv.FormatInt(length, 10),
	})
}

// Progress reports percentage-complete for a long-running transfer.
func (e *Emitter) Progress(percentage int, message string) error {
	return e.emit("progress", map[string]string{
		"percentage": strconv.Itoa(percentage),
		"message":    message,
	})
}

// DeltaVerification reports the hash and size of a transferred file so
// the orchestrator can verify delta-compressed uploads.
func (e *Emitter) DeltaVerification(remotePath, hash string, size int64) error {
	return e.emit("deltaVerification", map[string]string{
		"remotePath": remotePath,
		"hash":       hash,
		"size":       strconv.FormatInt(size, 10),
	})
}

// emit writes one tagged line and flushes. Attributes are written in
// sorted key order so output is deterministic and testable.
func (e *Emitter) emit(verb string, attrs map[string]string) error {
	if _, err := e.w.WriteString("##octopus[" + verb); err != nil {
		return fmt.Errorf("failed to write service message: %w", err)
	}

	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		encoded := base64.StdEncoding.EncodeToString([]byte(attrs[k]))
		if _, err := fmt.Fprintf(e.w, " %s=%q", k, encoded); err != nil {
			return fmt.Errorf("failed to write service message: %w", err)
		}
	}

	if _, err := e.w.WriteString("]\n"); err != nil {
		return fmt.Errorf("failed to write service message: %w", err)
	}

	if err := e.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush service message: %w", err)
	}

	return nil
}
