package ingesterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew_WrapsAndUnwraps(t *testing.T) {
	cause := errors.New("unexpected EOF")
	err := New(KindParse, "normalize", "/in/a.txt", cause)

	if !errors.Is(err, cause) {
		t.Fatal("errors.Is should find the cause")
	}
	if KindOf(err) != KindParse {
		t.Errorf("KindOf = %v, want parse", KindOf(err))
	}
	if got := err.Error(); got != "normalize /in/a.txt: unexpected EOF" {
		t.Errorf("Error() = %q", got)
	}
}

func TestNew_Nil(t *testing.T) {
	if New(KindLoad, "load", "x", nil) != nil {
		t.Error("New(nil) should return nil")
	}
}

func TestNew_KeepsInnerKind(t *testing.T) {
	inner := New(KindDecode, "", "", errors.New("bad byte"))
	outer := New(KindInternal, "normalize", "/in/b.txt", fmt.Errorf("read: %w", inner))

	if KindOf(outer) != KindDecode {
		t.Errorf("KindOf = %v, want decode", KindOf(outer))
	}
	var e *Error
	if !errors.As(outer, &e) || e.Path != "/in/b.txt" || e.Stage != "normalize" {
		t.Errorf("missing fields should be filled in, got %+v", e)
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if KindOf(errors.New("boom")) != KindInternal {
		t.Error("plain errors should be internal")
	}
	if Is(nil, KindInternal) {
		t.Error("nil is never any kind")
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil", nil, ""},
		{"parse kind", New(KindParse, "normalize", "a", errors.New("bare quote")), "FILE002"},
		{"decode kind", New(KindDecode, "normalize", "a", errors.New("invalid utf-8")), "FILE003"},
		{"unsupported kind", New(KindUnsupported, "normalize", "a", errors.New("x")), "FILE004"},
		{"schema conflict", New(KindSchemaConflict, "load", "a", errors.New(`duplicate column "id"`)), "LOAD001"},
		{"load kind", New(KindLoad, "load", "a", errors.New("copy failed")), "LOAD002"},
		{"pattern beats kind", New(KindLoad, "load", "a", errors.New("dial tcp: connection refused")), "DB001"},
		{"auth", errors.New(`FATAL: password authentication failed for user "x"`), "DB003"},
		{"deadline", fmt.Errorf("load: %w", errorString("context deadline exceeded")), "DB004"},
		{"no such file text", errors.New("open a: no such file or directory"), "FILE001"},
		{"empty file", errors.New("empty file: no header row"), "FILE005"},
		{"directory", New(KindDirectory, "scan", "/in", errors.New("not a directory")), "DIR001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err).Code; got != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }

func TestMapError_CaseInsensitive(t *testing.T) {
	if got := MapError(errors.New("CONNECTION REFUSED")).Code; got != "DB001" {
		t.Errorf("code = %q, want DB001", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(New(KindSchemaConflict, "infer", "a.csv", errors.New(`duplicate column "id"`)))
	if !strings.Contains(got, "(Code: LOAD001)") {
		t.Errorf("FormatUserError() = %q", got)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsKnown(t *testing.T) {
	if IsKnown(nil) {
		t.Error("nil is not known")
	}
	if IsKnown(errors.New("mystery")) {
		t.Error("unmatched errors are not known")
	}
	if !IsKnown(New(KindParse, "normalize", "a", errors.New("x"))) {
		t.Error("classified errors are known")
	}
}
