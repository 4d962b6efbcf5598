package wasmrt

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/skill"
)

func TestValidateRejectsOversizedModule(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, skill.DefaultResourceLimits())
	require.NoError(t, err)
	defer sb.Close(ctx)

	oversized := make([]byte, maxModuleBytes+1)
	_, err = sb.Validate(ctx, "too-big", oversized)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Resource))
}

func TestValidateRejectsMalformedModule(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, skill.DefaultResourceLimits())
	require.NoError(t, err)
	defer sb.Close(ctx)

	_, err = sb.Validate(ctx, "garbage", []byte("not a real wasm module"))
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Protocol))
}

func TestRunUnknownModuleIsNotFound(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, skill.DefaultResourceLimits())
	require.NoError(t, err)
	defer sb.Close(ctx)

	_, err = sb.Run(ctx, &skill.ExecutionContext{}, "nope", "run", nil)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.NotFound))
}

func TestRegisterHostModuleExposesFunctions(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, skill.DefaultResourceLimits())
	require.NoError(t, err)
	defer sb.Close(ctx)

	fns := map[string]api.GoModuleFunc{
		"host_log": func(ctx context.Context, mod api.Module, stack []uint64) {},
	}
	require.NoError(t, sb.RegisterHostModule(ctx, "env", fns))
}

func TestRegisterHostModuleRejectsDuplicateModuleName(t *testing.T) {
	ctx := context.Background()
	sb, err := New(ctx, skill.DefaultResourceLimits())
	require.NoError(t, err)
	defer sb.Close(ctx)

	fns := map[string]api.GoModuleFunc{"noop": func(ctx context.Context, mod api.Module, stack []uint64) {}}
	require.NoError(t, sb.RegisterHostModule(ctx, "env", fns))

	err = sb.RegisterHostModule(ctx, "env", fns)
	require.Error(t, err)
	assert.True(t, cerr.Is(err, cerr.Config))
}
