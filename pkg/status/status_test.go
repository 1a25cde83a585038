package status

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

var errProof = New(KindAuth, "pairing: invalid invite proof")

type limited struct{ wait time.Duration }

func (l limited) Error() string             { return "ratelimit: blocked" }
func (l limited) Kind() Kind                { return KindRateLimit }
func (l limited) RetryAfter() time.Duration { return l.wait }

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"sentinel", errProof, KindAuth},
		{"fmt wrapped", fmt.Errorf("handle request: %w", errProof), KindAuth},
		{"Wrap", Wrap(KindStore, "save pairing", errors.New("disk full")), KindStore},
		{"Wrap outermost wins", Wrap(KindStore, "load", errProof), KindStore},
		{"plain", errors.New("boom"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := KindOf(tc.err); got != tc.want {
				t.Errorf("KindOf() = %v, want %v", got, tc.want)
			}
		})
	}

	if !errors.Is(fmt.Errorf("x: %w", errProof), errProof) {
		t.Error("errors.Is lost the sentinel")
	}
	if Wrap(KindStore, "op", nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
	if Is(nil, KindInternal) {
		t.Error("Is(nil) should be false")
	}
}

func TestToReport_OmitsDetail(t *testing.T) {
	err := Wrap(KindStore, "save pairing", errors.New("open /var/lib/trustlink/db: permission denied"))
	r := ToReport(err)
	if r.Code != CodeUnavailable {
		t.Errorf("Code = %v, want Unavailable", r.Code)
	}
	if strings.Contains(r.Message, "/var/lib") {
		t.Errorf("Message leaks detail: %q", r.Message)
	}
}

func TestToReport_RetryAfter(t *testing.T) {
	r := ToReport(fmt.Errorf("pair: %w", limited{wait: 30 * time.Second}))
	if r.Code != CodeRateLimited || r.RetryAfter != 30*time.Second {
		t.Errorf("ToReport() = %+v", r)
	}
}

func TestReport_EncodeDecode(t *testing.T) {
	in := Report{Code: CodeRateLimited, Message: CodeRateLimited.Message(), RetryAfter: 1500 * time.Millisecond}
	out, err := DecodeReport(in.Encode())
	if err != nil {
		t.Fatalf("DecodeReport() error = %v", err)
	}
	if out != in {
		t.Errorf("DecodeReport() = %+v, want %+v", out, in)
	}

	remote := out.Err()
	if KindOf(remote) != KindRateLimit {
		t.Errorf("remote kind = %v", KindOf(remote))
	}
	if (Report{Code: CodeOK}).Err() != nil {
		t.Error("CodeOK should map to nil error")
	}
}

func TestCodeKindMapping(t *testing.T) {
	for k := KindAuth; k <= KindRateLimit; k++ {
		if got := KindFor(CodeFor(k)); got != k {
			t.Errorf("KindFor(CodeFor(%v)) = %v", k, got)
		}
	}
}
