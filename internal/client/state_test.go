package client

import (
	"errors"
	"testing"
)

func TestReasonText(t *testing.T) {
	cases := map[byte]string{
		1:   "incorrect protocol version",
		2:   "invalid client id",
		3:   "server unavailable",
		4:   "bad credentials",
		5:   "not authorized",
		200: "code 200",
	}
	for code, want := range cases {
		if got := reasonText(code); got != want {
			t.Errorf("reasonText(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestReasonCodeFromError(t *testing.T) {
	cases := []struct {
		err      error
		wantCode byte
		wantOK   bool
	}{
		{errors.New("unacceptable protocol version"), 1, true},
		{errors.New("identifier rejected"), 2, true},
		{errors.New("Server Unavailable"), 3, true},
		{errors.New("bad user name or password"), 4, true},
		{errors.New("Not Authorized"), 5, true},
		{errors.New("network Error"), 0, false},
		{nil, 0, false},
	}
	for _, tc := range cases {
		code, ok := reasonCodeFromError(tc.err)
		if ok != tc.wantOK || code != tc.wantCode {
			t.Errorf("reasonCodeFromError(%v) = (%d, %v), want (%d, %v)", tc.err, code, ok, tc.wantCode, tc.wantOK)
		}
	}
}

func TestDescribeConnectError(t *testing.T) {
	if got := describeConnectError(errors.New("not Authorized")); got != "not authorized" {
		t.Errorf("describeConnectError = %q, want %q", got, "not authorized")
	}
	if got := describeConnectError(errors.New("network Error")); got != "network Error" {
		t.Errorf("describeConnectError = %q, want raw error text %q", got, "network Error")
	}
}
