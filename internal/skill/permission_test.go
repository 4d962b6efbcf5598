package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/cerr"
)

func TestCheckMemoryPrefixMatch(t *testing.T) {
	ps := PermissionSet{{Kind: PermMemory, MemoryDomain: "Private", MemoryPrefix: "agent/"}}

	require.NoError(t, ps.CheckMemory("Private", "agent/config"))
	err := ps.CheckMemory("Private", "other/config")
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Permission))
}

func TestCheckMemoryWrongDomain(t *testing.T) {
	ps := PermissionSet{{Kind: PermMemory, MemoryDomain: "Public", MemoryPrefix: ""}}
	err := ps.CheckMemory("Private", "anything")
	require.Error(t, err)
}

func TestCheckNetworkWhitelist(t *testing.T) {
	ps := PermissionSet{{Kind: PermNetwork, HostWhitelist: []string{"api.example.com"}}}

	require.NoError(t, ps.CheckNetwork("api.example.com"))
	require.Error(t, ps.CheckNetwork("evil.example.com"))
}

func TestCheckFilesystemMode(t *testing.T) {
	ps := PermissionSet{{Kind: PermFilesystem, PathWhitelist: []string{"/data"}, Mode: "read"}}

	require.NoError(t, ps.CheckFilesystem("/data/file.txt", "read"))
	require.Error(t, ps.CheckFilesystem("/data/file.txt", "write"))
	require.Error(t, ps.CheckFilesystem("/etc/passwd", "read"))
}

func TestCheckFilesystemRWGrantsBothModes(t *testing.T) {
	ps := PermissionSet{{Kind: PermFilesystem, PathWhitelist: []string{"/data"}, Mode: "rw"}}
	require.NoError(t, ps.CheckFilesystem("/data/file.txt", "read"))
	require.NoError(t, ps.CheckFilesystem("/data/file.txt", "write"))
}

func TestCheckAI(t *testing.T) {
	require.Error(t, PermissionSet{}.CheckAI())
	require.NoError(t, PermissionSet{{Kind: PermAI}}.CheckAI())
}

func TestCheckCommandRejectsShellMetacharacters(t *testing.T) {
	ps := PermissionSet{{Kind: PermCommand, RegexWhitelist: []string{`^ls .*`}}}

	err := ps.CheckCommand([]string{"ls", "-la", "|", "rm -rf /"})
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Permission))
}

func TestCheckCommandMatchesWhitelist(t *testing.T) {
	ps := PermissionSet{{Kind: PermCommand, RegexWhitelist: []string{`^ls .*`}}}

	require.NoError(t, ps.CheckCommand([]string{"ls", "-la"}))
	require.Error(t, ps.CheckCommand([]string{"rm", "-rf", "/"}))
}
