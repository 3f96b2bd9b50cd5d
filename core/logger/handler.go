package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

type handlerConfig struct {
	level    slog.Leveler
	writer   *lineWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as a single JSON object or key=value
// line with a stable key order.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = slices.Clone(defaultKeyOrder)
	}
	return &structuredHandler{cfg: cfg}
}

// Enabled reports whether level passes the configured minimum.
func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

// Handle encodes r and queues the line on the writer.
func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return fmt.Errorf("logger: writer not initialized")
	}

	f := newFieldSet(16)
	ts := r.Time.UTC()
	f.set("ts", ts.Truncate(time.Millisecond).Format(timeFormatMillis))
	f.set("level", levelName(r.Level))
	if h.cfg.format == formatJSON {
		f.set("ts_unix_nano", ts.UnixNano())
	}

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		f.add(prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		f.add(prefix, a)
		return true
	})
	f.fromContext(ctx)
	f.finish(r.Message, h.cfg.format == formatJSON)

	var line []byte
	var err error
	if h.cfg.format == formatJSON {
		line, err = encodeJSON(f.ordered(h.cfg.keyOrder))
	} else {
		line = encodeKV(f.ordered(h.cfg.keyOrder))
	}
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

// WithAttrs returns a copy of the handler carrying attrs.
func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(slices.Clone(h.attrs), attrs...)
	return &clone
}

// WithGroup returns a copy of the handler that prefixes keys with name.
func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(slices.Clone(h.groups), name)
	return &clone
}

type field struct {
	key string
	val any
}

// fieldSet keeps the latest value per key.
type fieldSet struct {
	idx   map[string]int
	items []field
}

func newFieldSet(n int) *fieldSet {
	return &fieldSet{idx: make(map[string]int, n), items: make([]field, 0, n)}
}

func (f *fieldSet) set(key string, val any) {
	if i, ok := f.idx[key]; ok {
		f.items[i].val = val
		return
	}
	f.idx[key] = len(f.items)
	f.items = append(f.items, field{key, val})
}

func (f *fieldSet) has(key string) bool {
	_, ok := f.idx[key]
	return ok
}

func (f *fieldSet) str(key string) string {
	i, ok := f.idx[key]
	if !ok {
		return ""
	}
	switch v := f.items[i].val.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// add flattens groups into dotted keys.
func (f *fieldSet) add(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	key := a.Key
	if prefix != "" && key != "" {
		key = prefix + "." + key
	} else if key == "" {
		key = prefix
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, child := range a.Value.Group() {
			f.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	if k, v, ok := normalizeAttr(key, a.Value); ok {
		f.set(k, v)
	}
}

func (f *fieldSet) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	for _, kv := range [...]struct{ key, val string }{
		{"rid", RIDFrom(ctx)},
		{"trace_id", TraceIDFrom(ctx)},
		{"span_id", SpanIDFrom(ctx)},
		{"transport", TransportFrom(ctx)},
		{"user", UserFrom(ctx)},
		{"msg_id", MessageIDFrom(ctx)},
		{"step", StepFrom(ctx)},
		{"handler", HandlerFrom(ctx)},
	} {
		if kv.val != "" && !f.has(kv.key) {
			f.set(kv.key, kv.val)
		}
	}
}

// finish fills event and component, compacts the rid and normalizes
// enumerated values.
func (f *fieldSet) finish(msg string, keepFullRID bool) {
	if rid := f.str("rid"); rid != "" {
		if compact := CompactRID(rid); compact != rid {
			if keepFullRID && !f.has("rid_full") {
				f.set("rid_full", rid)
			}
			f.set("rid", compact)
		}
	}
	if f.str("event") == "" {
		f.set("event", orDefault(msg, "unknown"))
	}
	if f.str("component") == "" {
		f.set("component", "app")
	}
	if s := f.str("status"); s != "" {
		f.set("status", canonicalStatus(s))
	}
	if o := f.str("outcome"); o != "" {
		f.set("outcome", canonicalOutcome(o))
	}
}

// ordered lists non-empty fields: keys named in order first, the rest
// alphabetically.
func (f *fieldSet) ordered(order []string) []field {
	out := make([]field, 0, len(f.items))
	used := make(map[string]bool, len(f.items))
	for _, k := range order {
		if i, ok := f.idx[k]; ok && !used[k] {
			used[k] = true
			if !empty(f.items[i].val) {
				out = append(out, f.items[i])
			}
		}
	}
	head := len(out)
	for _, it := range f.items {
		if !used[it.key] && !empty(it.val) {
			out = append(out, it)
		}
	}
	slices.SortFunc(out[head:], func(a, b field) int { return strings.Compare(a.key, b.key) })
	return out
}

func empty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	}
	return false
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

var (
	botTokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
	bearerRe   = regexp.MustCompile(`(?i)(bearer\s+|access_token=|input_token=|fb_exchange_token=|client_secret=)[^\s&"]+`)
)

// Scrub removes credentials that upstream errors tend to echo back: bot
// tokens, bearer headers and token query parameters.
func Scrub(s string) string {
	if !strings.ContainsAny(s, "=Bb") {
		return s
	}
	s = botTokenRe.ReplaceAllString(s, "bot***")
	return bearerRe.ReplaceAllString(s, "${1}***")
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		s := strings.TrimSpace(val.String())
		if isSecretKey(key) {
			return key, Mask(s), true
		}
		return key, Scrub(s), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}

	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, Scrub(x.Error()), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, Scrub(x.String()), true
	case string:
		return key, Scrub(strings.TrimSpace(x)), true
	default:
		return key, Scrub(fmt.Sprint(x)), true
	}
}

func encodeJSON(fields []field) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, f := range fields {
		data, err := json.Marshal(f.val)
		if err != nil {
			return nil, fmt.Errorf("logger: encode %s: %w", f.key, err)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(f.key))
		b.WriteByte(':')
		b.Write(data)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func encodeKV(fields []field) []byte {
	var b bytes.Buffer
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(kvValue(f.val))
	}
	return b.Bytes()
}

func kvValue(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		s = fmt.Sprint(x)
	}
	if strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

// durationKey suffixes duration keys with _ms since values are milliseconds.
func durationKey(key string) string {
	if key == "duration" {
		return "duration_ms"
	}
	if strings.HasSuffix(key, "_ms") {
		return key
	}
	return key + "_ms"
}

var secretKeys = map[string]bool{
	"token":        true,
	"access_token": true,
	"auth_token":   true,
	"api_key":      true,
	"secret":       true,
	"app_secret":   true,
	"verify_token": true,
}

func isSecretKey(key string) bool {
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return secretKeys[strings.ToLower(key)]
}
