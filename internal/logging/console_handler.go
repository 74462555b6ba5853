package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const logTimestampLayout = "2006-01-02 15:04:05"

const ansiReset = "\x1b[0m"

type prettyHandler struct {
	mu        *sync.Mutex
	writer    io.Writer
	level     *slog.LevelVar
	attrs     []slog.Attr
	groups    []string
	addSource bool
	color     bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource, color bool) slog.Handler {
	return &prettyHandler{mu: &sync.Mutex{}, writer: w, level: lvl, addSource: addSource, color: color}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	header, body := h.collect(record)
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(body)*32)
	h.writeHeader(&buf, timestamp, record.Level, header, message, record.Source())
	buf.WriteByte('\n')
	if record.Level < slog.LevelInfo {
		writeDebugFields(&buf, body)
	} else {
		writeInfoFields(&buf, body)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.writer.Write(buf.Bytes())
	return err
}

// collect flattens handler and record attributes, lifting the header fields
// out of the body. The component only appears in the header.
func (h *prettyHandler) collect(record slog.Record) (headerFields, []kv) {
	kvs := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	flattenAttrs(&kvs, h.groups, h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, h.groups, attr)
		return true
	})
	kvs = dedupeKVsByKey(kvs)

	var header headerFields
	body := kvs[:0]
	for _, field := range kvs {
		switch field.key {
		case FieldComponent:
			header.component = attrString(field.value)
			continue
		case FieldWorld:
			header.world = attrString(field.value)
		case FieldCycleID:
			header.cycleID = attrString(field.value)
		}
		body = append(body, field)
	}
	return header, body
}

func writeDebugFields(buf *bytes.Buffer, body []kv) {
	for _, field := range body {
		fmt.Fprintf(buf, "    %s: %s\n", field.key, formatValue(field.value))
	}
}

func writeInfoFields(buf *bytes.Buffer, body []kv) {
	fields, hidden := selectInfoFields(body, infoAttrLimit)
	for _, field := range fields {
		fmt.Fprintf(buf, "    - %s: %s\n", field.label, field.value)
	}
	switch {
	case hidden == 1:
		buf.WriteString("    + 1 more field hidden\n")
	case hidden > 1:
		fmt.Fprintf(buf, "    + %d more fields hidden\n", hidden)
	}
}

type headerFields struct {
	component string
	world     string
	cycleID   string
}

func (h *prettyHandler) writeHeader(buf *bytes.Buffer, ts time.Time, level slog.Level, header headerFields, message string, src *slog.Source) {
	buf.WriteString(ts.In(time.Local).Format(logTimestampLayout))
	buf.WriteByte(' ')
	style := styleFor(level)
	if h.color {
		buf.WriteString(style.color + style.label + ansiReset)
	} else {
		buf.WriteString(style.label)
	}
	if header.component != "" {
		buf.WriteString(" [")
		buf.WriteString(header.component)
		buf.WriteByte(']')
	}
	if subject := FormatSubject(header.world, header.cycleID); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	buf.WriteString(" – ")
	buf.WriteString(message)
	if h.addSource && src != nil {
		buf.WriteString(" [")
		buf.WriteString(filepath.Base(src.File))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(src.Line))
		buf.WriteByte(']')
	}
}

// FormatSubject builds the "world · cycle" subject used in console headers.
// Cycle identifiers are shortened to their first eight characters.
func FormatSubject(world, cycleID string) string {
	world = strings.TrimSpace(world)
	cycleID = strings.TrimSpace(cycleID)
	if len(cycleID) > 8 {
		cycleID = cycleID[:8]
	}
	switch {
	case world != "" && cycleID != "":
		return world + " · cycle " + cycleID
	case world != "":
		return world
	case cycleID != "":
		return "cycle " + cycleID
	default:
		return ""
	}
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	clone := *h
	clone.attrs = append([]slog.Attr(nil), h.attrs...)
	clone.groups = append([]string(nil), h.groups...)
	return &clone
}

type kv struct {
	key   string
	value slog.Value
}

func dedupeKVsByKey(attrs []kv) []kv {
	if len(attrs) < 2 {
		return attrs
	}
	positions := make(map[string]int, len(attrs))
	deduped := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if pos, ok := positions[attr.key]; ok {
			deduped[pos].value = attr.value
			continue
		}
		positions[attr.key] = len(deduped)
		deduped = append(deduped, attr)
	}
	return deduped
}

func flattenAttrs(dst *[]kv, prefix []string, attrs []slog.Attr) {
	for _, attr := range attrs {
		flattenAttr(dst, prefix, attr)
	}
}

func flattenAttr(dst *[]kv, prefix []string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = append(append([]string(nil), prefix...), attr.Key)
		}
		flattenAttrs(dst, next, attr.Value.Group())
		return
	}
	key := attr.Key
	if len(prefix) > 0 {
		key = strings.Join(append(append([]string(nil), prefix...), key), ".")
	}
	*dst = append(*dst, kv{key: key, value: attr.Value})
}

type levelStyle struct {
	min   slog.Level
	label string
	color string
}

// levelStyles is ordered from most to least severe.
var levelStyles = []levelStyle{
	{slog.LevelError, "ERROR", "\x1b[31m"},
	{slog.LevelWarn, "WARN", "\x1b[33m"},
	{slog.LevelInfo, "INFO", "\x1b[36m"},
}

var debugStyle = levelStyle{slog.LevelDebug, "DEBUG", "\x1b[90m"}

func styleFor(level slog.Level) levelStyle {
	for _, style := range levelStyles {
		if level >= style.min {
			return style
		}
	}
	return debugStyle
}
