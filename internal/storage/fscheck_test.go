package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestCheckLocalFilesystemWith(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fsType  string
		detErr  error
		wantNet bool
		wantErr bool
	}{
		{name: "local ext4", fsType: "0xef53"},
		{name: "local apfs", fsType: "apfs"},
		{name: "nfs", fsType: "nfs", wantNet: true, wantErr: true},
		{name: "smb uppercase", fsType: "SMBFS", wantNet: true, wantErr: true},
		{name: "detector failure", detErr: errors.New("boom"), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			dbPath := filepath.Join(t.TempDir(), "channelgw.db")
			err := checkLocalFilesystemWith(dbPath, func(string) (string, error) {
				return tc.fsType, tc.detErr
			})
			if (err != nil) != tc.wantErr {
				t.Fatalf("checkLocalFilesystemWith() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got := errors.Is(err, ErrNetworkFilesystem); got != tc.wantNet {
				t.Fatalf("errors.Is(err, ErrNetworkFilesystem) = %v, want %v", got, tc.wantNet)
			}
		})
	}
}

func TestCheckLocalFilesystemInspectsNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dbPath := filepath.Join(root, "nested", "dir", "channelgw.db")

	var inspected string
	err := checkLocalFilesystemWith(dbPath, func(path string) (string, error) {
		inspected = path
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
	if inspected != root {
		t.Fatalf("expected detector to inspect %q, got %q", root, inspected)
	}
}
