package logging

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/favouriweala/Task-Manager-App-sub000/internal/config"
)

const (
	maskedKey     = "[REDACTED]"
	maskedPattern = "[REDACTED:pattern]"
)

// Secret logs a credential from the config file, such as the oracle API key
// or the Postgres password, as its length only. An unset secret logs as
// "[REDACTED:0]", which tells operators the credential is missing.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as "[REDACTED:<len>]".
func RedactedString(key, val string) zap.Field {
	return zap.String(key, fmt.Sprintf("[REDACTED:%d]", len(val)))
}

// redactor decides what to hide. Keys are compared case-insensitively;
// patterns apply to string values only.
type redactor struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]struct{}, len(cfg.Fields))}
	if !cfg.Enabled {
		return r, nil
	}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) hidesKey(key string) bool {
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// value returns what to write for a string field.
func (r *redactor) value(key, val string) string {
	if r.hidesKey(key) {
		return maskedKey
	}
	for _, re := range r.patterns {
		if re.MatchString(val) {
			return maskedPattern
		}
	}
	return val
}

// fields returns fields with hidden keys and matching string values replaced.
// The input slice is not modified.
func (r *redactor) fields(fields []zapcore.Field) []zapcore.Field {
	var out []zapcore.Field
	for i, f := range fields {
		repl, changed := r.field(f)
		if !changed {
			if out != nil {
				out = append(out, f)
			}
			continue
		}
		if out == nil {
			out = make([]zapcore.Field, i, len(fields))
			copy(out, fields[:i])
		}
		out = append(out, repl)
	}
	if out == nil {
		return fields
	}
	return out
}

func (r *redactor) field(f zapcore.Field) (zapcore.Field, bool) {
	switch {
	case f.Type == zapcore.SkipType:
		return f, false
	case r.hidesKey(f.Key):
		return zap.String(f.Key, maskedKey), true
	case f.Type == zapcore.StringType:
		if v := r.value(f.Key, f.String); v != f.String {
			return zap.String(f.Key, v), true
		}
	}
	return f, false
}

// RedactingEncoder hides configured field names and values matching the
// configured patterns before they reach the wrapped encoder. Non-string
// values under a hidden key are replaced whole; nested fields are not walked.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base. It fails when a pattern does not compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, r: r}, nil
}

// EncodeEntry redacts the per-call fields; fields added through With were
// already redacted by the Add methods.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	return e.Encoder.EncodeEntry(ent, e.r.fields(fields))
}

func (e *RedactingEncoder) AddString(key, val string) {
	e.Encoder.AddString(key, e.r.value(key, val))
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.r.hidesKey(key) {
		val = []byte(maskedKey)
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r.hidesKey(key) {
		val = []byte(maskedKey)
	}
	e.Encoder.AddBinary(key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r.hidesKey(key) {
		e.Encoder.AddString(key, maskedKey)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// Clone shares the compiled rules with the copy.
func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}
