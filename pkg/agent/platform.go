package agent

import (
	"fmt"
	"strings"

	"github.com/cuemby/behemoth/pkg/types"
)

// platformSpec describes where the agent binary lives on a worker and how
// to checksum it remotely.
type platformSpec struct {
	BinaryName string
	RemoteDir  string
	// ChecksumCmd is a format string taking the remote binary path.
	ChecksumCmd string
	// ChecksumField is the whitespace field of the command output holding
	// the digest.
	ChecksumField int
	PathSep       string
}

var platformSpecs = map[types.PlatformBase]platformSpec{
	types.PlatformLinux: {
		BinaryName:    "jms_cli_linux",
		RemoteDir:     "/tmp/behemoth",
		ChecksumCmd:   "md5sum %s",
		ChecksumField: 0,
		PathSep:       "/",
	},
	types.PlatformMac: {
		BinaryName:    "jms_cli_darwin",
		RemoteDir:     "/tmp/behemoth",
		ChecksumCmd:   "md5 %s",
		ChecksumField: 3,
		PathSep:       "/",
	},
	types.PlatformWindows: {
		BinaryName:    "jms_cli_windows.exe",
		RemoteDir:     `C:\Windows\Temp`,
		ChecksumCmd:   "certutil -hashfile %s MD5",
		ChecksumField: 4,
		PathSep:       `\`,
	},
}

func specFor(platform types.PlatformBase) (platformSpec, error) {
	spec, ok := platformSpecs[platform]
	if !ok {
		return platformSpec{}, fmt.Errorf("unsupported worker platform: %s", platform)
	}
	return spec, nil
}

// RemoteBinaryPath returns where the agent binary lives on the worker.
func (p platformSpec) RemoteBinaryPath() string {
	return p.RemoteDir + p.PathSep + p.BinaryName
}

// checksumFrom extracts the digest field from checksum command output.
func (p platformSpec) checksumFrom(output string) string {
	fields := strings.Fields(output)
	if p.ChecksumField >= len(fields) {
		return ""
	}
	return strings.ToLower(fields[p.ChecksumField])
}
