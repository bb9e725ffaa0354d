package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestE_Formatting(t *testing.T) {
	err := E(Op("git.Diff"), KindGit, "failed to capture diff", stderrors.New("exit status 128"))
	msg := err.Error()
	if !strings.Contains(msg, "git.Diff") {
		t.Errorf("expected op in message, got %q", msg)
	}
	if !strings.Contains(msg, "failed to capture diff") {
		t.Errorf("expected context in message, got %q", msg)
	}
	if !strings.Contains(msg, "exit status 128") {
		t.Errorf("expected underlying error in message, got %q", msg)
	}
}

func TestE_ContextOnly(t *testing.T) {
	err := E(Op("session.Create"), KindState, "session directory exists")
	if err.Error() != "session.Create: session directory exists" {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestIs(t *testing.T) {
	err := NoActiveSession("A")
	if !Is(err, KindState) {
		t.Error("expected KindState")
	}
	if Is(err, KindGit) {
		t.Error("did not expect KindGit")
	}
	if Is(stderrors.New("plain"), KindState) {
		t.Error("plain errors should not match any kind")
	}
}

func TestGetKind(t *testing.T) {
	if got := GetKind(SecretInDiff("sk-ant")); got != KindSecret {
		t.Errorf("expected KindSecret, got %v", got)
	}
	if got := GetKind(stderrors.New("plain")); got != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", got)
	}
}

func TestUnwrap(t *testing.T) {
	inner := stderrors.New("boom")
	err := MetadataWriteFailed("/tmp/meta.json", inner)
	if !stderrors.Is(err, inner) {
		t.Error("expected errors.Is to find the wrapped error")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindNotFound: "not found",
		KindSecret:   "secret detected",
		KindUnknown:  "unknown error",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
