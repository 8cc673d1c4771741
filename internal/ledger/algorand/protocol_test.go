// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 Voi Wallet Authors

package algorand

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/xarmian/voi-wallet-sub004/internal/ledger/lederr"
)

func TestDerivationPathFormat(t *testing.T) {
	cases := []struct {
		index int64
		want  string
	}{
		{0, "m/44'/283'/0'/0/0"},
		{1, "m/44'/283'/1'/0/0"},
		{7, "m/44'/283'/7'/0/0"},
		{MaxDerivationIndex, "m/44'/283'/2147483647'/0/0"},
	}
	for _, tc := range cases {
		got, err := DerivationPath(tc.index)
		if err != nil {
			t.Fatalf("DerivationPath(%d): %v", tc.index, err)
		}
		if got != tc.want {
			t.Errorf("DerivationPath(%d) = %q, want %q", tc.index, got, tc.want)
		}
		// Deterministic across calls.
		again, _ := DerivationPath(tc.index)
		if again != got {
			t.Errorf("DerivationPath(%d) not deterministic", tc.index)
		}
	}
}

func TestDerivationIndexValidation(t *testing.T) {
	for _, index := range []int64{-1, -42, MaxDerivationIndex + 1, 1 << 40} {
		if _, err := DerivationPath(index); !lederr.Is(err, lederr.InvalidRequest) {
			t.Errorf("DerivationPath(%d) err = %v, want invalid_request", index, err)
		}
		if _, err := serializePath(index); !lederr.Is(err, lederr.InvalidRequest) {
			t.Errorf("serializePath(%d) err = %v, want invalid_request", index, err)
		}
	}
}

func TestSerializePathLayout(t *testing.T) {
	buf, err := serializePath(5)
	if err != nil {
		t.Fatalf("serializePath: %v", err)
	}
	if len(buf) != 21 {
		t.Fatalf("serialized path is %d bytes, want 21", len(buf))
	}
	if buf[0] != 5 {
		t.Fatalf("depth byte = %d, want 5", buf[0])
	}
	want := []uint32{
		44 | hardenedFlag,
		283 | hardenedFlag,
		5 | hardenedFlag,
		0,
		0,
	}
	for i, w := range want {
		got := binary.BigEndian.Uint32(buf[1+4*i:])
		if got != w {
			t.Errorf("component %d = 0x%08x, want 0x%08x", i, got, w)
		}
	}
}

func appInfoResponse(name, version string, flags []byte, statusWord bool) []byte {
	resp := []byte{0x01, byte(len(name))}
	resp = append(resp, name...)
	if version != "" {
		resp = append(resp, byte(len(version)))
		resp = append(resp, version...)
	}
	resp = append(resp, flags...)
	if statusWord {
		resp = append(resp, 0x90, 0x00)
	}
	return resp
}

func TestParseAppInfo(t *testing.T) {
	cases := []struct {
		name string
		resp []byte
		want AppInfo
	}{
		{
			name: "full response with status word",
			resp: appInfoResponse("Algorand", "1.2.15", []byte{0x00, 0x01}, true),
			want: AppInfo{Name: "Algorand", Version: "1.2.15", Flags: 1},
		},
		{
			name: "no status word",
			resp: appInfoResponse("Algorand", "2.0.6", []byte{0x02}, false),
			want: AppInfo{Name: "Algorand", Version: "2.0.6", Flags: 2},
		},
		{
			name: "version entirely absent",
			resp: appInfoResponse("Algorand", "", nil, false),
			want: AppInfo{Name: "Algorand", Version: "0.0.0"},
		},
		{
			name: "flags absent",
			resp: appInfoResponse("BOLOS", "1.0.0", nil, true),
			want: AppInfo{Name: "BOLOS", Version: "1.0.0"},
		},
		{
			name: "version length exceeds remaining bytes",
			resp: append(appInfoResponse("Algorand", "", nil, false), 0x20, '1', '.', '2'),
			want: AppInfo{Name: "Algorand", Version: "1.2"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseAppInfo(tc.resp)
			if err != nil {
				t.Fatalf("parseAppInfo: %v", err)
			}
			if got != tc.want {
				t.Fatalf("parseAppInfo = %+v, want %+v", got, tc.want)
			}
			// Idempotent: same bytes, same result.
			again, err := parseAppInfo(tc.resp)
			if err != nil || again != got {
				t.Fatalf("second parse = %+v (%v), want %+v", again, err, got)
			}
		})
	}
}

func TestParseAppInfoMalformed(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x90, 0x00},             // status word only
		{0x01},                   // format byte only
		{0x01, 0x08, 'A', 'l'},   // name length exceeds payload
		{0x01, 0x00},             // zero-length name
	}
	for _, resp := range cases {
		if _, err := parseAppInfo(resp); !lederr.Is(err, lederr.AppInfo) {
			t.Errorf("parseAppInfo(% x) err = %v, want app_info", resp, err)
		}
	}
}

func TestNormalizeSignature(t *testing.T) {
	sig := make([]byte, 64)
	for i := range sig {
		sig[i] = byte(i + 1)
	}

	t.Run("status suffix stripped", func(t *testing.T) {
		got, err := normalizeSignature(append(append([]byte(nil), sig...), 0x90, 0x00))
		if err != nil {
			t.Fatalf("normalizeSignature: %v", err)
		}
		if !bytes.Equal(got, sig) {
			t.Fatal("66-byte response did not normalize to the bare signature")
		}
	})

	t.Run("bare signature ending in status bytes survives", func(t *testing.T) {
		tricky := append(append([]byte(nil), sig[:62]...), 0x90, 0x00)
		got, err := normalizeSignature(tricky)
		if err != nil {
			t.Fatalf("normalizeSignature: %v", err)
		}
		if !bytes.Equal(got, tricky) {
			t.Fatal("64-byte signature ending in 0x9000 was mangled")
		}
	})

	t.Run("short response is a rejection", func(t *testing.T) {
		for _, resp := range [][]byte{nil, {0x00}, {0x90, 0x00}, {0x6f, 0x42}} {
			if _, err := normalizeSignature(resp); !lederr.Is(err, lederr.UserRejected) {
				t.Errorf("normalizeSignature(% x) err = %v, want user_rejected", resp, err)
			}
		}
	})

	t.Run("known status words keep their class", func(t *testing.T) {
		if _, err := normalizeSignature([]byte{0x69, 0x85}); !lederr.Is(err, lederr.UserRejected) {
			t.Error("0x6985 should classify as user_rejected")
		}
		if _, err := normalizeSignature([]byte{0x69, 0x82}); !lederr.Is(err, lederr.DeviceLocked) {
			t.Error("0x6982 should classify as device_locked")
		}
	})

	t.Run("other lengths are protocol errors", func(t *testing.T) {
		for _, n := range []int{3, 63, 65, 70} {
			resp := make([]byte, n)
			if _, err := normalizeSignature(resp); !lederr.Is(err, lederr.Communication) {
				t.Errorf("length %d err class = %v, want communication", n, lederr.ClassOf(err))
			}
		}
	})
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.15", "1.2.15", 0},
		{"1.2", "1.2.0", 0},
		{"", "0.0.0", 0},
		{"1.10", "1.9", 1},
		{"0.9.9", "1.0", -1},
		{"2", "1.99.99", 1},
		{"1.2.14", "1.2.15", -1},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
