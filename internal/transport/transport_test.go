package transport

import (
	"errors"
	"testing"
)

func TestToken_StringAndParse(t *testing.T) {
	tests := []struct {
		name string
		tok  Token
		want string
	}{
		{"upload", Token{Upload, "/home/a/report.pdf", "/docs/report.pdf"}, "/home/a/report.pdf=>/docs/report.pdf"},
		{"download", Token{Download, "/tmp/x.bin", "/pub/x.bin"}, "/tmp/x.bin<=/pub/x.bin"},
		{"windows local", Token{Upload, `C:\data\a.txt`, "/a.txt"}, `C:\data\a.txt=>/a.txt`},
		{"download with upload separator in local", Token{Download, "/tmp/a=>b.bin", "/pub/b.bin"}, "/tmp/a=>b.bin<=/pub/b.bin"},
		{"download with separator dir in local", Token{Download, "/tmp/in=>/b.bin", "/pub/b.bin"}, "/tmp/in=>/b.bin<=/pub/b.bin"},
		{"upload with download separator in local", Token{Upload, "/tmp/a<=b.txt", "/b.txt"}, "/tmp/a<=b.txt=>/b.txt"},
		{"separator in remote name", Token{Upload, "/tmp/a.txt", "/pub/a=>b.txt"}, "/tmp/a.txt=>/pub/a=>b.txt"},
		{"relative remote", Token{Download, "/tmp/x", "x"}, "/tmp/x<=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.String(); got != tt.want {
				t.Fatalf("String() = %q, want %q", got, tt.want)
			}
			parsed, err := ParseToken(tt.want)
			if err != nil {
				t.Fatalf("ParseToken: %v", err)
			}
			if parsed != tt.tok {
				t.Errorf("ParseToken() = %+v, want %+v", parsed, tt.tok)
			}
		})
	}
}

func TestParseToken_Malformed(t *testing.T) {
	_, err := ParseToken("/only/one/path")
	if !errors.Is(err, ErrMalformedToken) {
		t.Errorf("err = %v, want ErrMalformedToken", err)
	}
}

func TestToken_Equality(t *testing.T) {
	a := Token{Upload, "/l", "/r"}
	b := Token{Upload, "/l", "/r"}
	c := Token{Download, "/l", "/r"}

	if a != b {
		t.Error("structurally equal tokens compare unequal")
	}
	if a == c {
		t.Error("direction must take part in equality")
	}
	if a.IsZero() || !(Token{}).IsZero() {
		t.Error("IsZero mismatch")
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"upload", Upload, false},
		{"PUT", Upload, false},
		{"download", Download, false},
		{"get", Download, false},
		{"sideways", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
