package tools

import (
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"
)

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&schema.ToolInfo{Name: "zeta"}))
	require.NoError(t, r.Register(&schema.ToolInfo{Name: "alpha"}))

	require.Equal(t, []string{"alpha", "zeta"}, r.Names())
	require.Equal(t, 2, r.Len())
}

func TestRegistryRejectsUnnamed(t *testing.T) {
	r := NewRegistry()
	require.Error(t, r.Register(nil))
	require.Error(t, r.Register(&schema.ToolInfo{}))
	require.Zero(t, r.Len())
}

func TestInfosSkipsUnknown(t *testing.T) {
	r := NewBuiltinRegistry()
	infos := r.Infos([]string{"file_read", "missing", "http_request"})

	require.Len(t, infos, 2)
	require.Equal(t, "file_read", infos[0].Name)
	require.Equal(t, "http_request", infos[1].Name)
}

func TestBuiltinRegistryFilter(t *testing.T) {
	r := NewBuiltinRegistry("system_info")
	require.Equal(t, []string{"system_info"}, r.Names())
}
